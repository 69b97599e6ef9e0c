// Package exposure resolves positions and candidate weights into underlying
// issuer exposure. Fund wrappers are looked through into their disclosed
// holdings; when holdings data is missing or stale the fund degrades into a
// single opaque node instead of failing, because a transient data gap must
// not fabricate exposures or spuriously halt a revision.
package exposure

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
)

// FundHolding is one disclosed underlying holding of a fund.
type FundHolding struct {
	IssuerID string  `json:"issuer_id"`
	Weight   float64 `json:"weight"` // fraction of the fund, 0..1
}

// FundHoldingsSource supplies disclosed fund holdings. The market-data client
// implements this; tests stub it.
type FundHoldingsSource interface {
	// Holdings returns the fund's disclosed holdings and the disclosure date.
	Holdings(ctx context.Context, fundID string) ([]FundHolding, time.Time, error)
}

// ExposureNode is the issuer exposure contributed by one position or weight.
// A non-fund position yields exactly one node; a fund yields one node per
// underlying holding, or a single opaque node when look-through degrades.
type ExposureNode struct {
	IssuerID   string            `json:"issuer_id"`
	SourceID   string            `json:"source_id"` // the held security that contributed this
	Weight     float64           `json:"weight"`    // fraction of portfolio value
	ViaFund    bool              `json:"via_fund"`
	Confidence domain.Confidence `json:"confidence"`
}

// Result is the resolved exposure of a whole candidate portfolio.
type Result struct {
	Nodes []ExposureNode `json:"nodes"`
	// Confidence is degraded when any fund could not be looked through.
	Confidence domain.Confidence `json:"confidence"`
	// DegradedFunds lists funds whose holdings were unavailable or stale.
	DegradedFunds []string `json:"degraded_funds,omitempty"`
}

// IssuerTotals sums node weights per issuer across the whole portfolio,
// direct and look-through alike.
func (r *Result) IssuerTotals() map[string]float64 {
	totals := make(map[string]float64)
	for _, node := range r.Nodes {
		totals[node.IssuerID] += node.Weight
	}
	return totals
}

// DirectWeights returns the weight of each non-fund security held directly.
// These are the exposures subject to the single-position concentration limit.
func (r *Result) DirectWeights() map[string]float64 {
	weights := make(map[string]float64)
	for _, node := range r.Nodes {
		if !node.ViaFund {
			weights[node.SourceID] += node.Weight
		}
	}
	return weights
}

// Resolver performs fund look-through against a holdings source.
type Resolver struct {
	holdings FundHoldingsSource
	maxAge   time.Duration
	log      zerolog.Logger
}

// NewResolver creates a resolver. Holdings disclosed longer than maxAge ago
// are treated as stale; maxAge <= 0 disables the staleness check.
func NewResolver(holdings FundHoldingsSource, maxAge time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		holdings: holdings,
		maxAge:   maxAge,
		log:      log.With().Str("service", "exposure").Logger(),
	}
}

// Resolve expands one security's weight into issuer exposure nodes.
func (r *Resolver) Resolve(ctx context.Context, securityID string, weight float64, isFund bool) ([]ExposureNode, error) {
	if !isFund {
		return []ExposureNode{{
			IssuerID:   securityID,
			SourceID:   securityID,
			Weight:     weight,
			Confidence: domain.ConfidenceFull,
		}}, nil
	}

	holdings, err := r.fundHoldings(ctx, securityID)
	if err != nil {
		var stale *domain.StaleDataError
		if errors.As(err, &stale) {
			r.log.Warn().
				Str("fund", securityID).
				Time("as_of", stale.AsOf).
				Msg("Fund holdings stale, degrading to opaque node")
		} else {
			r.log.Warn().Err(err).
				Str("fund", securityID).
				Msg("Fund holdings unavailable, degrading to opaque node")
		}
		return []ExposureNode{{
			IssuerID:   securityID,
			SourceID:   securityID,
			Weight:     weight,
			ViaFund:    true,
			Confidence: domain.ConfidenceDegraded,
		}}, nil
	}

	nodes := make([]ExposureNode, 0, len(holdings))
	for _, holding := range holdings {
		nodes = append(nodes, ExposureNode{
			IssuerID:   holding.IssuerID,
			SourceID:   securityID,
			Weight:     weight * holding.Weight,
			ViaFund:    true,
			Confidence: domain.ConfidenceFull,
		})
	}
	return nodes, nil
}

// ResolveWeights expands a candidate weight vector into a full exposure
// result. funds marks which securities are fund wrappers.
func (r *Resolver) ResolveWeights(ctx context.Context, weights map[string]float64, funds map[string]bool) (*Result, error) {
	securities := make([]string, 0, len(weights))
	for id := range weights {
		securities = append(securities, id)
	}
	sort.Strings(securities)

	result := &Result{Confidence: domain.ConfidenceFull}
	for _, id := range securities {
		nodes, err := r.Resolve(ctx, id, weights[id], funds[id])
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if node.Confidence == domain.ConfidenceDegraded {
				result.Confidence = domain.ConfidenceDegraded
				result.DegradedFunds = append(result.DegradedFunds, node.SourceID)
			}
		}
		result.Nodes = append(result.Nodes, nodes...)
	}
	return result, nil
}

// fundHoldings fetches holdings and applies the staleness policy.
func (r *Resolver) fundHoldings(ctx context.Context, fundID string) ([]FundHolding, error) {
	if r.holdings == nil {
		return nil, errors.New("no fund holdings source configured")
	}
	holdings, asOf, err := r.holdings.Holdings(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, errors.New("fund disclosed no holdings")
	}
	if r.maxAge > 0 && time.Since(asOf) > r.maxAge {
		return nil, &domain.StaleDataError{
			Source: "fund_holdings:" + fundID,
			AsOf:   asOf,
			MaxAge: r.maxAge,
		}
	}
	return holdings, nil
}
