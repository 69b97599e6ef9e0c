// Package handlers provides HTTP handlers for the ledger.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/ledger"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *ledger.Service
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

type transactionRequest struct {
	AccountID  string `json:"account_id"`
	SecurityID string `json:"security_id"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	AssetClass string `json:"asset_class"`
	IsFund     bool   `json:"is_fund"`
	ExecutedAt string `json:"executed_at"`
}

// HandleApplyTransaction records a buy against the ledger.
// Sales go through the lot selector so every disposal carries lot lines.
func (h *Handler) HandleApplyTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid quantity: "+req.Quantity)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid price: "+req.Price)
		return
	}
	executedAt, err := parseTime(req.ExecutedAt)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid executed_at: "+req.ExecutedAt)
		return
	}

	assetClass := domain.AssetClass(req.AssetClass)
	if assetClass == "" {
		assetClass = domain.AssetClassEquity
	}

	lot, err := h.service.ApplyTransaction(ledger.Transaction{
		AccountID:  req.AccountID,
		SecurityID: req.SecurityID,
		Side:       domain.Side(req.Side),
		Quantity:   quantity,
		Price:      price,
		ExecutedAt: executedAt,
	}, assetClass, req.IsFund)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, lot)
}

type transferRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	SecurityID  string `json:"security_id"`
	Quantity    string `json:"quantity"`
	ExecutedAt  string `json:"executed_at"`
}

// HandleTransfer moves lots between accounts preserving acquisition dates.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid quantity: "+req.Quantity)
		return
	}
	executedAt, err := parseTime(req.ExecutedAt)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid executed_at: "+req.ExecutedAt)
		return
	}

	if err := h.service.Transfer(req.FromAccount, req.ToAccount, req.SecurityID, quantity, executedAt); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeData(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// HandleImport ingests a broker CSV export, all-or-nothing.
// The account comes from the URL; the body is the raw CSV.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	result, err := h.service.ImportLots(accountID, ledger.FormatGeneric, r.Body)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeData(w, http.StatusCreated, result)
}

// HandleSnapshot returns a deep, versioned snapshot of the whole ledger.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeData(w, http.StatusOK, snap)
}

// HandleOpenLots lists the open lots of one position.
func (h *Handler) HandleOpenLots(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	securityID := chi.URLParam(r, "securityID")

	lots, err := h.service.Lots().GetOpen(accountID, securityID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeData(w, http.StatusOK, lots)
}

// HandleVerifyInvariant reports positions whose quantity disagrees with the
// sum of their open lots. Empty means consistent.
func (h *Handler) HandleVerifyInvariant(w http.ResponseWriter, r *http.Request) {
	violations, err := h.service.VerifyInvariant()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if violations == nil {
		violations = []string{}
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"consistent": len(violations) == 0,
		"violations": violations,
	})
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, raw)
}

// writeDomainError maps typed domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidTransactionError
	var insufficient *domain.InsufficientLotsError
	var parse *domain.ParseError
	switch {
	case errors.As(err, &invalid), errors.As(err, &parse):
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
