// Package handlers provides HTTP handlers for lot selection and sales.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/lots"
)

// Handler handles sale simulation and commit requests
type Handler struct {
	service *lots.Service
	log     zerolog.Logger
}

// NewHandler creates a new lots handler
func NewHandler(service *lots.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "lots").Logger(),
	}
}

type saleRequest struct {
	AccountID      string  `json:"account_id"`
	SecurityID     string  `json:"security_id"`
	Quantity       string  `json:"quantity"`
	Price          string  `json:"price"`
	Policy         string  `json:"policy"`
	SpecificLotIDs []int64 `json:"specific_lot_ids"`
	ExecutedAt     string  `json:"executed_at"`
}

// HandleSimulateSale previews a sale without touching the ledger. The response
// carries the full per-lot breakdown so a caller can inspect the tax outcome
// before committing.
func (h *Handler) HandleSimulateSale(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseSaleRequest(w, r)
	if !ok {
		return
	}

	event, err := h.service.SimulateSale(*req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, event)
}

// HandleCommitSale runs the same selection as the preview and applies it.
func (h *Handler) HandleCommitSale(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseSaleRequest(w, r)
	if !ok {
		return
	}

	event, err := h.service.CommitSale(*req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeData(w, http.StatusCreated, event)
}

func (h *Handler) parseSaleRequest(w http.ResponseWriter, r *http.Request) (*lots.SaleRequest, bool) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid quantity: "+req.Quantity)
		return nil, false
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid price: "+req.Price)
		return nil, false
	}
	policy, err := lots.ParsePolicy(req.Policy)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	executedAt, err := time.Parse(time.RFC3339, req.ExecutedAt)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid executed_at: "+req.ExecutedAt)
		return nil, false
	}

	return &lots.SaleRequest{
		AccountID:      req.AccountID,
		SecurityID:     req.SecurityID,
		Quantity:       quantity,
		Price:          price,
		Policy:         policy,
		SpecificLotIDs: req.SpecificLotIDs,
		ExecutedAt:     executedAt,
	}, true
}

// writeDomainError maps typed domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidTransactionError
	var insufficient *domain.InsufficientLotsError
	switch {
	case errors.As(err, &invalid):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &insufficient):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
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
