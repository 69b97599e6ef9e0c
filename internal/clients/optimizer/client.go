// Package optimizer provides a client for the external portfolio optimizer
// service. The optimizer proposes target weights; it never sees the ledger and
// its output is always re-validated by the revision gate before anything is
// accepted. A timeout here means the caller aborts the attempt back to DRAFT;
// no weights are ever fabricated locally.
package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Request asks the optimizer for target weights over a universe.
type Request struct {
	AccountID  string               `json:"account_id"`
	Securities []string             `json:"securities"`
	Returns    map[string][]float64 `json:"returns"`
	// CurrentWeights anchors turnover-aware objectives; optional.
	CurrentWeights map[string]float64 `json:"current_weights,omitempty"`
	// Objective names the optimization objective, e.g. "max_sharpe" or
	// "min_volatility". The service default applies when empty.
	Objective string `json:"objective,omitempty"`
}

// Result is the optimizer's proposal.
type Result struct {
	Weights map[string]float64 `json:"weights"`
	// Feasible is false when the solver could not satisfy its constraints;
	// the weights are then a best-effort point and must not be drafted.
	Feasible  bool    `json:"feasible"`
	Objective string  `json:"objective"`
	Score     float64 `json:"score"`
}

// Client is the optimizer API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates an optimizer client.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "optimizer").Logger(),
	}
}

// Optimize requests target weights. The context deadline bounds the whole
// round trip; a deadline error propagates unchanged so the caller can map it
// to an abort-to-draft.
func (c *Client) Optimize(ctx context.Context, req Request) (*Result, error) {
	if len(req.Securities) == 0 {
		return nil, fmt.Errorf("optimize request needs at least one security")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal optimize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/optimize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build optimize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("optimizer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("optimizer returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse optimizer response: %w", err)
	}

	c.log.Debug().
		Str("account", req.AccountID).
		Bool("feasible", result.Feasible).
		Int("securities", len(result.Weights)).
		Msg("Optimizer proposal received")
	return &result, nil
}
