// Package handlers provides HTTP handlers for revision attempts.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/clients/optimizer"
	"github.com/aristath/custodian/internal/modules/revision"
)

// DataSource supplies the externally sourced series an evaluation needs when
// the caller does not inline them. Implemented by the market data client.
type DataSource interface {
	GetReturns(ctx context.Context, securityIDs []string) (map[string][]float64, error)
	GetLiquidity(ctx context.Context, securityIDs []string) (map[string]float64, error)
	GetPrices(ctx context.Context, securityIDs []string) (map[string]float64, error)
}

// WeightProposer asks an external solver for target weights over a universe.
// Implemented by the optimizer client.
type WeightProposer interface {
	Optimize(ctx context.Context, req optimizer.Request) (*optimizer.Result, error)
}

// Handler handles revision attempt requests
type Handler struct {
	service  *revision.Service
	source   DataSource
	proposer WeightProposer
	log      zerolog.Logger
}

// NewHandler creates a new revision handler. source may be nil, in which case
// every evaluation must inline its own data; proposer may be nil, in which
// case drafts can only be created with explicit weights.
func NewHandler(service *revision.Service, source DataSource, proposer WeightProposer, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		source:   source,
		proposer: proposer,
		log:      log.With().Str("handler", "revision").Logger(),
	}
}

type draftRequest struct {
	AccountID string             `json:"account_id"`
	Weights   map[string]float64 `json:"weights"`
}

// HandleCreateDraft opens a new attempt in DRAFT.
func (h *Handler) HandleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" || len(req.Weights) == 0 {
		h.writeError(w, http.StatusBadRequest, "account_id and weights are required")
		return
	}

	attempt, err := h.service.CreateDraft(req.AccountID, req.Weights)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeData(w, http.StatusCreated, attempt)
}

type proposeRequest struct {
	AccountID string `json:"account_id"`
	Objective string `json:"objective"`
}

// HandlePropose asks the optimizer for target weights over the account's
// current holdings and drafts an attempt from the proposal. The proposal is
// never trusted: the draft still has to pass the gate like any other.
func (h *Handler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	if h.proposer == nil || h.source == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no optimizer is configured")
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	securityIDs, err := h.service.HeldSecurities(req.AccountID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(securityIDs) == 0 {
		h.writeError(w, http.StatusUnprocessableEntity, "account "+req.AccountID+" holds no securities to optimize over")
		return
	}

	returns, err := h.source.GetReturns(r.Context(), securityIDs)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "return series unavailable: "+err.Error())
		return
	}

	result, err := h.proposer.Optimize(r.Context(), optimizer.Request{
		AccountID:  req.AccountID,
		Securities: securityIDs,
		Returns:    returns,
		Objective:  req.Objective,
	})
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "optimizer unavailable: "+err.Error())
		return
	}
	if !result.Feasible {
		h.writeError(w, http.StatusUnprocessableEntity, "optimizer found no feasible weights for account "+req.AccountID)
		return
	}

	attempt, err := h.service.CreateDraft(req.AccountID, result.Weights)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeData(w, http.StatusCreated, attempt)
}

type evaluateRequest struct {
	Returns        map[string][]float64 `json:"returns"`
	PositionValues map[string]float64   `json:"position_values"`
	AvgDailyValues map[string]float64   `json:"avg_daily_values"`
}

// HandleEvaluate runs a DRAFT attempt through the gate. Series the caller
// does not inline are fetched from the market data source; a fetch failure
// returns 502 and leaves the attempt in DRAFT, untouched.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookupAttempt(w, r)
	if !ok {
		return
	}

	// An empty body means "fetch everything from the data source".
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	securityIDs := make([]string, 0, len(attempt.Weights))
	for securityID := range attempt.Weights {
		securityIDs = append(securityIDs, securityID)
	}

	if req.Returns == nil && h.source != nil {
		returns, err := h.source.GetReturns(r.Context(), securityIDs)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "return series unavailable: "+err.Error())
			return
		}
		req.Returns = returns
	}
	if req.AvgDailyValues == nil && h.source != nil {
		liquidity, err := h.source.GetLiquidity(r.Context(), securityIDs)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "liquidity data unavailable: "+err.Error())
			return
		}
		req.AvgDailyValues = liquidity
	}
	if req.PositionValues == nil && h.source != nil {
		// Post-trade values come from the current portfolio value spread
		// across the attempt's weights, priced over every held security.
		held, err := h.service.HeldSecurities(attempt.AccountID)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		prices, err := h.source.GetPrices(r.Context(), held)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "price data unavailable: "+err.Error())
			return
		}
		values, err := h.service.PositionValues(attempt.AccountID, attempt.Weights, prices)
		if err != nil {
			h.writeError(w, http.StatusBadGateway, "position values unavailable: "+err.Error())
			return
		}
		req.PositionValues = values
	}

	evaluated, err := h.service.Evaluate(r.Context(), attempt.ID, revision.EvaluateInput{
		Returns:        req.Returns,
		PositionValues: req.PositionValues,
		AvgDailyValues: req.AvgDailyValues,
	})
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeData(w, http.StatusOK, evaluated)
}

type overrideRequest struct {
	By            string `json:"by"`
	Justification string `json:"justification"`
}

// HandleOverride forces a HALTED attempt to ACCEPTED.
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookupAttempt(w, r)
	if !ok {
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.By == "" || req.Justification == "" {
		h.writeError(w, http.StatusBadRequest, "by and justification are required")
		return
	}

	overridden, err := h.service.Override(attempt.ID, req.By, req.Justification)
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeData(w, http.StatusOK, overridden)
}

// HandleAbort returns an EVALUATING attempt to DRAFT.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookupAttempt(w, r)
	if !ok {
		return
	}

	aborted, err := h.service.AbortToDraft(attempt.ID)
	if err != nil {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.writeData(w, http.StatusOK, aborted)
}

// HandleGet returns one attempt by id.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.lookupAttempt(w, r)
	if !ok {
		return
	}
	h.writeData(w, http.StatusOK, attempt)
}

// HandleList returns every attempt of one account, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, "account_id query parameter is required")
		return
	}

	attempts, err := h.service.Repo().GetByAccount(accountID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if attempts == nil {
		attempts = []revision.Attempt{}
	}
	h.writeData(w, http.StatusOK, attempts)
}

func (h *Handler) lookupAttempt(w http.ResponseWriter, r *http.Request) (*revision.Attempt, bool) {
	id := chi.URLParam(r, "revisionID")
	attempt, err := h.service.Repo().Get(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if attempt == nil {
		h.writeError(w, http.StatusNotFound, "revision attempt not found: "+id)
		return nil, false
	}
	return attempt, true
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
