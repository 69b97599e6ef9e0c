// Package handlers provides HTTP handlers for loss harvesting.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/harvesting"
)

// Handler handles harvesting rank requests
type Handler struct {
	service *harvesting.Service
	log     zerolog.Logger
}

// NewHandler creates a new harvesting handler
func NewHandler(service *harvesting.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "harvesting").Logger(),
	}
}

type rankRequest struct {
	Prices            map[string]string `json:"prices"`
	MinLossThreshold  string            `json:"min_loss_threshold"`
	ExcludeWindowDays int               `json:"exclude_window_days"`
	AsOf              string            `json:"as_of"`
	AccountID         string            `json:"account_id"`
	AllAccounts       bool              `json:"all_accounts"`
}

// HandleRank scores every open lot carrying a large-enough unrealized loss
// against the supplied quotes and returns the candidates best-benefit first.
func (h *Handler) HandleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Prices) == 0 {
		h.writeError(w, http.StatusBadRequest, "prices are required")
		return
	}
	if req.AccountID == "" && !req.AllAccounts {
		h.writeError(w, http.StatusBadRequest, "account_id or all_accounts is required")
		return
	}

	prices := make(map[string]decimal.Decimal, len(req.Prices))
	for securityID, raw := range req.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid price for "+securityID+": "+raw)
			return
		}
		prices[securityID] = price
	}

	threshold := decimal.Zero
	if req.MinLossThreshold != "" {
		var err error
		threshold, err = decimal.NewFromString(req.MinLossThreshold)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid min_loss_threshold: "+req.MinLossThreshold)
			return
		}
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		var err error
		asOf, err = time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid as_of: "+req.AsOf)
			return
		}
	}

	opportunities, err := h.service.RankOpportunities(harvesting.Request{
		Prices:            prices,
		MinLossThreshold:  threshold,
		ExcludeWindowDays: req.ExcludeWindowDays,
		AsOf:              asOf,
		Scope:             domain.AccountScope{AccountID: req.AccountID, AllAccounts: req.AllAccounts},
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if opportunities == nil {
		opportunities = []harvesting.Opportunity{}
	}
	h.writeData(w, http.StatusOK, opportunities)
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
