package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPctChange(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected []float64
	}{
		{name: "empty", prices: nil, expected: []float64{}},
		{name: "single price", prices: []float64{100}, expected: []float64{}},
		{name: "rising", prices: []float64{100, 110, 121}, expected: []float64{0.1, 0.1}},
		{name: "falling", prices: []float64{200, 100}, expected: []float64{-0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PctChange(tt.prices)
			assert.Len(t, got, len(tt.expected))
			for i := range tt.expected {
				assert.InDelta(t, tt.expected[i], got[i], 1e-12)
			}
		})
	}
}

func TestPctChange_ZeroPreviousIsNaN(t *testing.T) {
	got := PctChange([]float64{0, 10, 20})
	assert.True(t, math.IsNaN(got[0]))
	assert.InDelta(t, 1.0, got[1], 1e-12)
}

func TestStdDev_IsSampleStdDev(t *testing.T) {
	// Sample variance of {2,4,4,4,5,5,7,9} is 32/7.
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, math.Sqrt(32.0/7.0), got, 1e-12)
}

func TestStdDev_SingleValueIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(StdDev([]float64{1})))
}

func TestTrailingStdDev(t *testing.T) {
	values := []float64{100, 1, 2, 3}

	sd, ok := TrailingStdDev(values, 3)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, sd, 1e-12)

	_, ok = TrailingStdDev(values, 5)
	assert.False(t, ok, "window longer than input")

	_, ok = TrailingStdDev([]float64{1, math.NaN(), 3}, 3)
	assert.False(t, ok, "NaN inside window")
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
}
