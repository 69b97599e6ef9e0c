// Package risk evaluates candidate portfolios against binding limits:
// Expected Shortfall as the primary tail metric, issuer concentration with
// fund look-through, a liquidity floor and a correlation ceiling. The outcome
// is always a full snapshot with named breaches, never a bare boolean, so a
// halted revision can cite exactly which check failed and by how much.
package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/exposure"
	"github.com/aristath/custodian/pkg/formulas"
)

// Breached-check identifiers, stable across releases because halted revision
// records reference them.
const (
	CheckESLimit            = "es_limit_breach"
	CheckLiquidityFloor     = "liquidity_floor_breach"
	CheckConcentration      = "concentration_breach"
	CheckCorrelationCeiling = "correlation_ceiling_breach"
)

// Limits are the binding thresholds of the gate.
type Limits struct {
	// ESConfidence is the Expected Shortfall confidence level.
	ESConfidence float64 `json:"es_confidence"`
	// ESLimit is the maximum tolerated expected tail loss, as a fraction.
	ESLimit float64 `json:"es_limit"`
	// LiquidityFloor is the minimum portfolio liquidity score.
	LiquidityFloor float64 `json:"liquidity_floor"`
	// ConcentrationLimit caps single-issuer exposure. Diversified funds are
	// exempt as direct positions; their look-through still counts.
	ConcentrationLimit float64 `json:"concentration_limit"`
	// CorrelationCeiling caps the average pairwise correlation across the
	// top holdings.
	CorrelationCeiling float64 `json:"correlation_ceiling"`
	// CorrelationTopN is how many top holdings the correlation check covers.
	CorrelationTopN int `json:"correlation_top_n"`
}

// DefaultLimits returns the standard gate configuration.
func DefaultLimits() Limits {
	return Limits{
		ESConfidence:       0.975,
		ESLimit:            0.025,
		LiquidityFloor:     0.3,
		ConcentrationLimit: 0.20,
		CorrelationCeiling: 0.8,
		CorrelationTopN:    10,
	}
}

// Breach names one failed check with the observed value and its limit.
type Breach struct {
	Check  string  `json:"check"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
	Detail string  `json:"detail,omitempty"`
}

func (b Breach) String() string {
	if b.Detail != "" {
		return fmt.Sprintf("%s: %s (%.4f vs limit %.4f)", b.Check, b.Detail, b.Value, b.Limit)
	}
	return fmt.Sprintf("%s: %.4f vs limit %.4f", b.Check, b.Value, b.Limit)
}

// Snapshot is one immutable risk evaluation of a candidate portfolio.
// ExpectedShortfall and ValueAtRisk are loss magnitudes: 0.028 means an
// expected tail loss of 2.8%.
type Snapshot struct {
	ID                     string             `json:"id"`
	CreatedAt              time.Time          `json:"created_at"`
	ExpectedShortfall      float64            `json:"expected_shortfall"`
	ValueAtRisk            float64            `json:"value_at_risk"` // reference only, never binding
	LiquidityScore         float64            `json:"liquidity_score"`
	MaxIssuerConcentration float64            `json:"max_issuer_concentration"`
	AvgPairwiseCorrelation float64            `json:"avg_pairwise_correlation"`
	IssuerTotals           map[string]float64 `json:"issuer_totals"`
	Confidence             domain.Confidence  `json:"confidence"`
	HaltRequired           bool               `json:"halt_required"`
	Breaches               []Breach           `json:"breaches,omitempty"`
}

// BreachedChecks returns the identifiers of every breached check.
func (s *Snapshot) BreachedChecks() []string {
	checks := make([]string, 0, len(s.Breaches))
	for _, b := range s.Breaches {
		checks = append(checks, b.Check)
	}
	return checks
}

// BreachError converts a halted snapshot into a GateBreachError for callers
// that want a hard failure instead of branching on HaltRequired.
func (s *Snapshot) BreachError() error {
	if !s.HaltRequired {
		return nil
	}
	return &domain.GateBreachError{Checks: s.BreachedChecks()}
}

// Input carries everything one evaluation needs. Returns series come from the
// market-data collaborator; weights from the optimizer.
type Input struct {
	// Weights maps security to target fraction of the portfolio.
	Weights map[string]float64 `json:"weights"`
	// Funds marks which securities are fund wrappers.
	Funds map[string]bool `json:"funds"`
	// Returns is the historical return series per security.
	Returns map[string][]float64 `json:"returns"`
	// PositionValues is the post-trade value per security.
	PositionValues map[string]float64 `json:"position_values"`
	// AvgDailyValues is the average daily traded value per security.
	AvgDailyValues map[string]float64 `json:"avg_daily_values"`
}

// validate refuses incomplete market data. A weighted security with no return
// series would contribute nothing to the tail metrics, and one with no
// position value would score perfect liquidity; both silently understate the
// very checks the gate binds on, so the evaluation fails instead.
func (in Input) validate() error {
	for _, id := range sortedKeys(in.Weights) {
		if in.Weights[id] <= 0 {
			continue
		}
		if len(in.Returns[id]) == 0 {
			return fmt.Errorf("security %s has no return series", id)
		}
		if _, ok := in.PositionValues[id]; !ok {
			return fmt.Errorf("security %s has no position value", id)
		}
	}
	return nil
}

// Gate evaluates candidate portfolios.
type Gate struct {
	resolver *exposure.Resolver
	limits   Limits
	log      zerolog.Logger
}

// NewGate creates a risk gate.
func NewGate(resolver *exposure.Resolver, limits Limits, log zerolog.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		limits:   limits,
		log:      log.With().Str("service", "risk").Logger(),
	}
}

// Limits returns the gate's configured limits.
func (g *Gate) Limits() Limits { return g.limits }

// Evaluate computes a RiskSnapshot for the candidate portfolio and decides
// whether a HALT is required. Any single breached check suffices.
func (g *Gate) Evaluate(ctx context.Context, in Input) (*Snapshot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		Confidence: domain.ConfidenceFull,
	}

	portfolioReturns := formulas.WeightedPortfolioReturns(in.Returns, in.Weights)
	es := formulas.ExpectedShortfall(portfolioReturns, g.limits.ESConfidence)
	vaR := formulas.ValueAtRisk(portfolioReturns, g.limits.ESConfidence)
	snap.ExpectedShortfall = lossMagnitude(es)
	snap.ValueAtRisk = lossMagnitude(vaR)
	if snap.ExpectedShortfall > g.limits.ESLimit {
		snap.Breaches = append(snap.Breaches, Breach{
			Check: CheckESLimit,
			Value: snap.ExpectedShortfall,
			Limit: g.limits.ESLimit,
		})
	}

	resolved, err := g.resolver.ResolveWeights(ctx, in.Weights, in.Funds)
	if err != nil {
		return nil, err
	}
	snap.Confidence = resolved.Confidence
	snap.IssuerTotals = resolved.IssuerTotals()
	snap.Breaches = append(snap.Breaches, g.concentrationBreaches(resolved, snap, in.Funds)...)

	snap.LiquidityScore = formulas.PortfolioLiquidityScore(in.Weights, in.PositionValues, in.AvgDailyValues)
	if snap.LiquidityScore < g.limits.LiquidityFloor {
		snap.Breaches = append(snap.Breaches, Breach{
			Check: CheckLiquidityFloor,
			Value: snap.LiquidityScore,
			Limit: g.limits.LiquidityFloor,
		})
	}

	snap.AvgPairwiseCorrelation = formulas.AveragePairwiseCorrelation(in.Returns, in.Weights, g.limits.CorrelationTopN)
	if snap.AvgPairwiseCorrelation > g.limits.CorrelationCeiling {
		snap.Breaches = append(snap.Breaches, Breach{
			Check: CheckCorrelationCeiling,
			Value: snap.AvgPairwiseCorrelation,
			Limit: g.limits.CorrelationCeiling,
		})
	}

	snap.HaltRequired = len(snap.Breaches) > 0
	if snap.HaltRequired {
		g.log.Warn().
			Strs("breaches", snap.BreachedChecks()).
			Float64("es", snap.ExpectedShortfall).
			Msg("Risk gate requires halt")
	}
	return snap, nil
}

// concentrationBreaches checks both faces of the concentration rule: the
// direct single-security limit on non-fund positions, and the per-issuer
// total including fund look-through.
func (g *Gate) concentrationBreaches(resolved *exposure.Result, snap *Snapshot, funds map[string]bool) []Breach {
	var breaches []Breach

	direct := resolved.DirectWeights()
	for _, id := range sortedKeys(direct) {
		weight := direct[id]
		if weight > snap.MaxIssuerConcentration {
			snap.MaxIssuerConcentration = weight
		}
		if weight > g.limits.ConcentrationLimit {
			breaches = append(breaches, Breach{
				Check:  CheckConcentration,
				Value:  weight,
				Limit:  g.limits.ConcentrationLimit,
				Detail: fmt.Sprintf("direct position %s", id),
			})
		}
	}

	totals := snap.IssuerTotals
	for _, issuer := range sortedKeys(totals) {
		total := totals[issuer]
		// A fund wrapper showing up as its own issuer (degraded look-through)
		// keeps the fund exemption; only real issuers are capped.
		if funds[issuer] {
			continue
		}
		if total > snap.MaxIssuerConcentration {
			snap.MaxIssuerConcentration = total
		}
		// A direct breach already covers the direct share; only flag the
		// issuer total when look-through pushes it past the limit alone.
		if total > g.limits.ConcentrationLimit && !(direct[issuer] > g.limits.ConcentrationLimit) {
			breaches = append(breaches, Breach{
				Check:  CheckConcentration,
				Value:  total,
				Limit:  g.limits.ConcentrationLimit,
				Detail: fmt.Sprintf("issuer %s including fund look-through", issuer),
			})
		}
	}
	return breaches
}

func lossMagnitude(ret float64) float64 {
	if ret >= 0 {
		return 0
	}
	return -ret
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
