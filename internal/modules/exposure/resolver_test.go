package exposure_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/custodian/internal/domain"
	"github.com/aristath/custodian/internal/modules/exposure"
)

// stubHoldings serves canned fund holdings per fund id.
type stubHoldings struct {
	holdings map[string][]exposure.FundHolding
	asOf     time.Time
	err      error
}

func (s *stubHoldings) Holdings(_ context.Context, fundID string) ([]exposure.FundHolding, time.Time, error) {
	if s.err != nil {
		return nil, time.Time{}, s.err
	}
	return s.holdings[fundID], s.asOf, nil
}

func TestResolveNonFundYieldsSingleNode(t *testing.T) {
	r := exposure.NewResolver(nil, 0, zerolog.Nop())

	nodes, err := r.Resolve(context.Background(), "AAPL", 0.15, false)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "AAPL", nodes[0].IssuerID)
	assert.InDelta(t, 0.15, nodes[0].Weight, 1e-12)
	assert.False(t, nodes[0].ViaFund)
	assert.Equal(t, domain.ConfidenceFull, nodes[0].Confidence)
}

func TestResolveFundLooksThrough(t *testing.T) {
	source := &stubHoldings{
		holdings: map[string][]exposure.FundHolding{
			"VWCE": {
				{IssuerID: "AAPL", Weight: 0.04},
				{IssuerID: "MSFT", Weight: 0.03},
			},
		},
		asOf: time.Now(),
	}
	r := exposure.NewResolver(source, 24*time.Hour, zerolog.Nop())

	nodes, err := r.Resolve(context.Background(), "VWCE", 0.50, true)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "AAPL", nodes[0].IssuerID)
	assert.InDelta(t, 0.02, nodes[0].Weight, 1e-12)
	assert.True(t, nodes[0].ViaFund)
	assert.InDelta(t, 0.015, nodes[1].Weight, 1e-12)
}

func TestResolveFundDegradesOnMissingData(t *testing.T) {
	source := &stubHoldings{err: errors.New("upstream unavailable")}
	r := exposure.NewResolver(source, 24*time.Hour, zerolog.Nop())

	nodes, err := r.Resolve(context.Background(), "VWCE", 0.50, true)
	require.NoError(t, err, "missing data degrades, never fails")
	require.Len(t, nodes, 1)
	assert.Equal(t, "VWCE", nodes[0].IssuerID)
	assert.InDelta(t, 0.50, nodes[0].Weight, 1e-12)
	assert.Equal(t, domain.ConfidenceDegraded, nodes[0].Confidence)
}

func TestResolveFundDegradesOnStaleData(t *testing.T) {
	source := &stubHoldings{
		holdings: map[string][]exposure.FundHolding{
			"VWCE": {{IssuerID: "AAPL", Weight: 1.0}},
		},
		asOf: time.Now().Add(-48 * time.Hour),
	}
	r := exposure.NewResolver(source, 24*time.Hour, zerolog.Nop())

	nodes, err := r.Resolve(context.Background(), "VWCE", 0.30, true)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, domain.ConfidenceDegraded, nodes[0].Confidence)
	assert.Equal(t, "VWCE", nodes[0].IssuerID)
}

func TestResolveWeightsAggregatesIssuerTotals(t *testing.T) {
	source := &stubHoldings{
		holdings: map[string][]exposure.FundHolding{
			"VWCE": {
				{IssuerID: "AAPL", Weight: 0.10},
				{IssuerID: "NVDA", Weight: 0.05},
			},
		},
		asOf: time.Now(),
	}
	r := exposure.NewResolver(source, 24*time.Hour, zerolog.Nop())

	result, err := r.ResolveWeights(context.Background(),
		map[string]float64{"AAPL": 0.10, "VWCE": 0.50, "BND": 0.40},
		map[string]bool{"VWCE": true},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceFull, result.Confidence)

	totals := result.IssuerTotals()
	// Direct 10% plus 50%×10% through the fund.
	assert.InDelta(t, 0.15, totals["AAPL"], 1e-12)
	assert.InDelta(t, 0.025, totals["NVDA"], 1e-12)
	assert.InDelta(t, 0.40, totals["BND"], 1e-12)

	direct := result.DirectWeights()
	assert.InDelta(t, 0.10, direct["AAPL"], 1e-12)
	assert.InDelta(t, 0.40, direct["BND"], 1e-12)
	_, fundIsDirect := direct["VWCE"]
	assert.False(t, fundIsDirect, "fund wrappers carry no direct single-security exposure")
}

func TestResolveWeightsMarksDegradedFunds(t *testing.T) {
	source := &stubHoldings{
		holdings: map[string][]exposure.FundHolding{}, // nothing disclosed
		asOf:     time.Now(),
	}
	r := exposure.NewResolver(source, 24*time.Hour, zerolog.Nop())

	result, err := r.ResolveWeights(context.Background(),
		map[string]float64{"VWCE": 1.0},
		map[string]bool{"VWCE": true},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceDegraded, result.Confidence)
	assert.Equal(t, []string{"VWCE"}, result.DegradedFunds)
}
