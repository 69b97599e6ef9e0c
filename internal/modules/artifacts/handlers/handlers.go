// Package handlers provides HTTP handlers for the artifact store.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/modules/artifacts"
)

// Handler handles artifact lookups
type Handler struct {
	recorder *artifacts.Recorder
	log      zerolog.Logger
}

// NewHandler creates a new artifacts handler
func NewHandler(recorder *artifacts.Recorder, log zerolog.Logger) *Handler {
	return &Handler{
		recorder: recorder,
		log:      log.With().Str("handler", "artifacts").Logger(),
	}
}

// HandleGet returns one artifact by id.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "artifactID")

	record, err := h.recorder.Get(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "artifact not found: "+id)
		return
	}
	h.writeData(w, http.StatusOK, record)
}

// HandleLineage walks the depends_on chain of an artifact and returns the
// full derivation, dependencies before dependents.
func (h *Handler) HandleLineage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "artifactID")

	record, err := h.recorder.Get(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		h.writeError(w, http.StatusNotFound, "artifact not found: "+id)
		return
	}

	lineage, err := h.recorder.Lineage(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeData(w, http.StatusOK, lineage)
}

// HandleList returns artifacts of one kind, oldest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		h.writeError(w, http.StatusBadRequest, "kind query parameter is required")
		return
	}

	records, err := h.recorder.GetByKind(kind)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []artifacts.Record{}
	}
	h.writeData(w, http.StatusOK, records)
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
