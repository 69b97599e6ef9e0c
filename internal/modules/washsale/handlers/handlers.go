// Package handlers provides HTTP handlers for wash-sale detection.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/washsale"
)

// Handler handles wash-sale scan requests
type Handler struct {
	service *washsale.Service
	log     zerolog.Logger
}

// NewHandler creates a new wash-sale handler
func NewHandler(service *washsale.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "washsale").Logger(),
	}
}

type scanRequest struct {
	SecurityID  string `json:"security_id"`
	AccountID   string `json:"account_id"`
	AllAccounts bool   `json:"all_accounts"`
}

func (req scanRequest) scope() domain.AccountScope {
	return domain.AccountScope{AccountID: req.AccountID, AllAccounts: req.AllAccounts}
}

// HandleScan detects wash-sale flags for one security without writing
// anything. The same ledger state always yields the same flags.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseScanRequest(w, r)
	if !ok {
		return
	}

	flags, err := h.service.Scan(req.SecurityID, req.scope())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flags == nil {
		flags = []washsale.Flag{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"flags":       flags,
		"window_days": h.service.WindowDays(),
	})
}

// HandleScanAndApply detects flags and persists the basis adjustments in one
// step. Re-running it is safe: already-applied flags are skipped.
func (h *Handler) HandleScanAndApply(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseScanRequest(w, r)
	if !ok {
		return
	}

	flags, applied, err := h.service.ScanAndApply(req.SecurityID, req.scope())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flags == nil {
		flags = []washsale.Flag{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"flags":   flags,
		"applied": applied,
	})
}

// HandleAdjustments lists every persisted wash-sale adjustment.
func (h *Handler) HandleAdjustments(w http.ResponseWriter, r *http.Request) {
	adjustments, err := h.service.Adjustments().GetAll()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if adjustments == nil {
		adjustments = []washsale.Adjustment{}
	}
	h.writeData(w, http.StatusOK, adjustments)
}

func (h *Handler) parseScanRequest(w http.ResponseWriter, r *http.Request) (*scanRequest, bool) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if req.SecurityID == "" {
		h.writeError(w, http.StatusBadRequest, "security_id is required")
		return nil, false
	}
	if req.AccountID == "" && !req.AllAccounts {
		h.writeError(w, http.StatusBadRequest, "account_id or all_accounts is required")
		return nil, false
	}
	return &req, true
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
