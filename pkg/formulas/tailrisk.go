package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedShortfall calculates the Expected Shortfall (Conditional VaR) of a
// return series at the given confidence level. ES is the mean of the returns in
// the worst (1-confidence) tail, so for loss-making tails the result is negative.
//
// Args:
//   - returns: Historical returns (negative values are losses)
//   - confidence: Confidence level (e.g., 0.975 for 97.5%)
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	if len(returns) == 1 {
		return returns[0]
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	tailProbability := 1.0 - confidence
	tailCount := int(math.Ceil(float64(len(sorted)) * tailProbability))
	if tailCount == 0 {
		tailCount = 1
	}
	if tailCount > len(sorted) {
		tailCount = len(sorted)
	}

	sum := 0.0
	for _, r := range sorted[:tailCount] {
		sum += r
	}
	return sum / float64(tailCount)
}

// ValueAtRisk calculates historical Value at Risk at the given confidence level.
// Returns the return at the (1-confidence) percentile; negative for losses.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	index := int(float64(len(sorted)) * (1.0 - confidence))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// SimulatedExpectedShortfall estimates ES by sampling portfolio returns from a
// normal distribution parameterized by the portfolio mean and variance
// (w' * mu, w' * Sigma * w). Used when the historical window is too short for a
// stable tail estimate.
func SimulatedExpectedShortfall(
	covMatrix [][]float64,
	expectedReturns map[string]float64,
	weights map[string]float64,
	symbols []string,
	numSimulations int,
	confidence float64,
) float64 {
	n := len(symbols)
	if n == 0 || len(covMatrix) != n || numSimulations <= 0 {
		return 0.0
	}

	mu := make([]float64, n)
	w := make([]float64, n)
	for i, symbol := range symbols {
		mu[i] = expectedReturns[symbol]
		w[i] = weights[symbol]
	}

	portfolioMu := 0.0
	for i := 0; i < n; i++ {
		portfolioMu += w[i] * mu[i]
	}

	portfolioVariance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			portfolioVariance += w[i] * w[j] * covMatrix[i][j]
		}
	}

	normal := distuv.Normal{
		Mu:    portfolioMu,
		Sigma: math.Sqrt(math.Max(portfolioVariance, 1e-10)),
	}

	simulated := make([]float64, numSimulations)
	for i := range simulated {
		simulated[i] = normal.Rand()
	}
	return ExpectedShortfall(simulated, confidence)
}
