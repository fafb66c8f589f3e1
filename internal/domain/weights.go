package domain

// WeightVector is an ordered mapping Asset -> target weight.
// Weights sum to 1 or are all zero (degenerate cycle).
type WeightVector struct {
	Assets  []Asset
	Weights map[Asset]float64
}

// NewWeightVector creates a zeroed vector over the given assets
func NewWeightVector(assets []Asset) WeightVector {
	w := WeightVector{
		Assets:  append([]Asset(nil), assets...),
		Weights: make(map[Asset]float64, len(assets)),
	}
	for _, a := range assets {
		w.Weights[a] = 0
	}
	return w
}

// Get returns the weight of an asset (zero when absent)
func (w WeightVector) Get(asset Asset) float64 {
	return w.Weights[asset]
}

// Sum returns the sum of all weights
func (w WeightVector) Sum() float64 {
	total := 0.0
	for _, a := range w.Assets {
		total += w.Weights[a]
	}
	return total
}

// IsDegenerate reports whether every weight is zero
func (w WeightVector) IsDegenerate() bool {
	for _, a := range w.Assets {
		if w.Weights[a] != 0 {
			return false
		}
	}
	return true
}
