package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})

	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
}

func TestCalculateReturnsHandlesZeroPrice(t *testing.T) {
	returns := CalculateReturns([]float64{0, 10})

	require.Len(t, returns, 1)
	assert.Equal(t, 0.0, returns[0])
}

func TestCalculateReturnsShortSeries(t *testing.T) {
	assert.Nil(t, CalculateReturns(nil))
	assert.Nil(t, CalculateReturns([]float64{100}))
}

func TestWeightedPortfolioReturns(t *testing.T) {
	returns := map[string][]float64{
		"AAA": {0.01, 0.02, 0.03},
		"BBB": {-0.02, 0.04},
	}
	weights := map[string]float64{"AAA": 0.6, "BBB": 0.4}

	portfolio := WeightedPortfolioReturns(returns, weights)

	// Truncated to two periods, aligned on the tail of the longer series.
	require.Len(t, portfolio, 2)
	assert.InDelta(t, 0.6*0.02+0.4*-0.02, portfolio[0], 1e-9)
	assert.InDelta(t, 0.6*0.03+0.4*0.04, portfolio[1], 1e-9)
}

func TestWeightedPortfolioReturnsEmpty(t *testing.T) {
	assert.Nil(t, WeightedPortfolioReturns(nil, nil))
	assert.Nil(t, WeightedPortfolioReturns(map[string][]float64{"AAA": {}}, map[string]float64{"AAA": 1}))
}
