package formulas

// participationRate is the fraction of a day's volume a liquidation is assumed
// to be able to absorb without moving the market.
const participationRate = 0.25

// LiquidityScore scores a single holding in [0, 1] from its position value and
// average daily traded value. A position liquidatable within one day at the
// participation rate scores close to 1; positions needing many days tend to 0.
// A zero-size position has nothing to liquidate and scores 1; callers must
// not pass a missing position value as zero.
func LiquidityScore(positionValue, avgDailyValue float64) float64 {
	if positionValue <= 0 {
		return 1.0
	}
	if avgDailyValue <= 0 {
		return 0.0
	}

	daysToLiquidate := positionValue / (participationRate * avgDailyValue)
	return 1.0 / (1.0 + daysToLiquidate)
}

// PortfolioLiquidityScore is the weight-averaged liquidity score across
// holdings. Securities with no volume data score zero, dragging the portfolio
// score down rather than being silently ignored.
func PortfolioLiquidityScore(weights map[string]float64, positionValues, avgDailyValues map[string]float64) float64 {
	totalWeight := 0.0
	score := 0.0
	for symbol, weight := range weights {
		if weight <= 0 {
			continue
		}
		totalWeight += weight
		score += weight * LiquidityScore(positionValues[symbol], avgDailyValues[symbol])
	}
	if totalWeight == 0 {
		return 0.0
	}
	return score / totalWeight
}
