// Package formulas provides the numeric helpers used by the weight calculator.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation (N-1 denominator).
// Returns NaN when fewer than two observations are available.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return math.NaN()
	}
	return stat.StdDev(data, nil)
}

// PctChange converts prices to day-over-day fractional changes.
// Changes[i] = (Price[i+1] - Price[i]) / Price[i]
//
// A non-positive or non-finite previous price yields NaN for that step so
// the caller can treat the window as undefined.
func PctChange(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	changes := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || !isFinite(prev) || !isFinite(cur) {
			changes[i-1] = math.NaN()
			continue
		}
		changes[i-1] = (cur - prev) / prev
	}

	return changes
}

// TrailingStdDev returns the sample standard deviation of the last `window`
// values. ok is false when the window is short or contains NaN/Inf, or when
// the result itself is not finite.
func TrailingStdDev(values []float64, window int) (sd float64, ok bool) {
	if window < 2 || len(values) < window {
		return 0, false
	}

	tail := values[len(values)-window:]
	for _, v := range tail {
		if !isFinite(v) {
			return 0, false
		}
	}

	sd = StdDev(tail)
	if !isFinite(sd) {
		return 0, false
	}
	return sd, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
