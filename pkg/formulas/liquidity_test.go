package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiquidityScore(t *testing.T) {
	// Position worth one quarter of daily traded value liquidates in a day.
	assert.InDelta(t, 0.5, LiquidityScore(25_000, 100_000), 1e-9)

	// Tiny position in a deep market is effectively liquid.
	assert.Greater(t, LiquidityScore(100, 10_000_000), 0.99)

	// No volume data means illiquid, not unknown.
	assert.Equal(t, 0.0, LiquidityScore(10_000, 0))

	// Empty positions are trivially liquid.
	assert.Equal(t, 1.0, LiquidityScore(0, 0))
}

func TestPortfolioLiquidityScore(t *testing.T) {
	weights := map[string]float64{"AAA": 0.5, "BBB": 0.5}
	values := map[string]float64{"AAA": 25_000, "BBB": 25_000}
	adv := map[string]float64{"AAA": 100_000, "BBB": 100_000}

	assert.InDelta(t, 0.5, PortfolioLiquidityScore(weights, values, adv), 1e-9)
}

func TestPortfolioLiquidityScoreMissingVolumeDragsScore(t *testing.T) {
	weights := map[string]float64{"AAA": 0.5, "BBB": 0.5}
	values := map[string]float64{"AAA": 100, "BBB": 25_000}
	adv := map[string]float64{"AAA": 10_000_000} // BBB has no volume data

	score := PortfolioLiquidityScore(weights, values, adv)
	assert.Less(t, score, 0.55)
	assert.Greater(t, score, 0.45)
}

func TestPortfolioLiquidityScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, PortfolioLiquidityScore(nil, nil, nil))
}
