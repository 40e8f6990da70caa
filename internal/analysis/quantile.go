package analysis

import (
	"math"
	"sort"
)

// Quantile returns the q-quantile of vals using linear interpolation between
// order statistics (the same definition as numpy/pandas default). NaNs are ignored.
// An empty input yields 0.
func Quantile(vals []float64, q float64) float64 {
	return QuantileSorted(sortedClean(vals), q)
}

// Median is Quantile(vals, 0.5).
func Median(vals []float64) float64 {
	return Quantile(vals, 0.5)
}

// QuantileSorted is Quantile for input already sorted ascending without NaNs.
func QuantileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// TrailingQuantiles returns, for each index i, the q-quantile of the window
// vals[max(0, i-window+1) : i+1]. Only past and present values are used.
func TrailingQuantiles(vals []float64, window int, q float64) []float64 {
	out := make([]float64, len(vals))
	if window <= 0 {
		return out
	}
	buf := make([]float64, 0, window)
	for i := range vals {
		from := i - window + 1
		if from < 0 {
			from = 0
		}
		buf = append(buf[:0], vals[from:i+1]...)
		out[i] = Quantile(buf, q)
	}
	return out
}

func sortedClean(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
