package formulas

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// AveragePairwiseCorrelation computes the mean Pearson correlation across all
// pairs of the topN largest holdings by weight. Series shorter than two
// observations and pairs with mismatched lengths are truncated to the common
// tail; securities without return data are skipped.
func AveragePairwiseCorrelation(returns map[string][]float64, weights map[string]float64, topN int) float64 {
	symbols := make([]string, 0, len(weights))
	for symbol := range weights {
		if len(returns[symbol]) >= 2 {
			symbols = append(symbols, symbol)
		}
	}
	if len(symbols) < 2 {
		return 0.0
	}

	// Largest weights first; symbol as tie-break for determinism.
	sort.Slice(symbols, func(i, j int) bool {
		if weights[symbols[i]] != weights[symbols[j]] {
			return weights[symbols[i]] > weights[symbols[j]]
		}
		return symbols[i] < symbols[j]
	})
	if topN > 0 && len(symbols) > topN {
		symbols = symbols[:topN]
	}

	sum := 0.0
	pairs := 0
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			a, b := alignTail(returns[symbols[i]], returns[symbols[j]])
			if len(a) < 2 {
				continue
			}
			sum += stat.Correlation(a, b, nil)
			pairs++
		}
	}
	if pairs == 0 {
		return 0.0
	}
	return sum / float64(pairs)
}

// alignTail truncates both series to their common most-recent length.
func alignTail(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}
