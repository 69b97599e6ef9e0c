// Package formulas provides the statistical primitives used by the risk gate.
package formulas

// CalculateReturns computes simple period-over-period returns from a price series.
// The result has len(prices)-1 entries; an empty or single-element input yields nil.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	return returns
}

// WeightedPortfolioReturns combines per-security return series into a single
// portfolio return series using the given weights. Series are aligned from the
// most recent observation backwards and truncated to the shortest series.
func WeightedPortfolioReturns(returns map[string][]float64, weights map[string]float64) []float64 {
	if len(returns) == 0 {
		return nil
	}

	minLen := -1
	for _, rets := range returns {
		if minLen == -1 || len(rets) < minLen {
			minLen = len(rets)
		}
	}
	if minLen <= 0 {
		return nil
	}

	portfolio := make([]float64, minLen)
	for symbol, rets := range returns {
		weight := weights[symbol]
		if weight == 0 {
			continue
		}
		// Align on the tail so every series contributes its most recent returns.
		offset := len(rets) - minLen
		for i := 0; i < minLen; i++ {
			portfolio[i] += weight * rets[offset+i]
		}
	}
	return portfolio
}
