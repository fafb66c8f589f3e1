// Package allocation computes target weights from recent volatility.
package allocation

import (
	"context"
	"fmt"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/pkg/formulas"
	"github.com/rs/zerolog"
)

// DefaultVolatilityWindow is the number of daily changes used for volatility
const DefaultVolatilityWindow = 20

// Calculator turns price history into inverse-volatility weights.
//
// Each asset scores 1/σ where σ is the sample standard deviation of its
// trailing `window` day-over-day changes. Assets with undefined or zero σ,
// or with fewer than window+1 closes, score zero. Scores are normalised to
// sum to one; if every score is zero all weights are zero.
type Calculator struct {
	window int
	log    zerolog.Logger
}

// NewCalculator creates a weight calculator. window < 2 falls back to the default.
func NewCalculator(window int, log zerolog.Logger) *Calculator {
	if window < 2 {
		window = DefaultVolatilityWindow
	}
	return &Calculator{
		window: window,
		log:    log.With().Str("component", "weight_calculator").Logger(),
	}
}

// RequiredCloses is the minimum number of closes needed per asset
func (c *Calculator) RequiredCloses() int {
	return c.window + 1
}

// Score returns the inverse-volatility score of one price series.
// Returns domain.ErrInsufficientData when the series is too short.
func (c *Calculator) Score(closes []float64) (float64, error) {
	if len(closes) < c.RequiredCloses() {
		return 0, fmt.Errorf("%w: have %d closes, need %d", domain.ErrInsufficientData, len(closes), c.RequiredCloses())
	}

	changes := formulas.PctChange(closes)
	sd, ok := formulas.TrailingStdDev(changes, c.window)
	if !ok || sd <= 0 {
		return 0, nil
	}
	return 1 / sd, nil
}

// Calculate builds the weight vector for assets in the given order.
// Missing series are treated as insufficient data.
func (c *Calculator) Calculate(assets []domain.Asset, closes map[domain.Asset][]float64) domain.WeightVector {
	weights := domain.NewWeightVector(assets)
	scores := make(map[domain.Asset]float64, len(assets))
	total := 0.0

	for _, asset := range assets {
		score, err := c.Score(closes[asset])
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("asset", asset.String()).
				Msg("Scoring asset as zero")
		}
		scores[asset] = score
		total += score
	}

	if total <= 0 {
		c.log.Warn().Msg("No asset produced a usable volatility estimate, all weights zero")
		return weights
	}

	for _, asset := range assets {
		weights.Weights[asset] = scores[asset] / total
	}

	return weights
}

// MarketData is the subset of the exchange client needed to fetch history
type MarketData interface {
	GetHistoricalCloses(ctx context.Context, asset domain.Asset, count int) ([]float64, error)
}

// FetchCloses fetches the required history for every asset.
// A fetch error is returned rather than scored as zero: a silent zero weight
// would liquidate the asset.
func (c *Calculator) FetchCloses(ctx context.Context, md MarketData, assets []domain.Asset) (map[domain.Asset][]float64, error) {
	out := make(map[domain.Asset][]float64, len(assets))
	for _, asset := range assets {
		closes, err := md.GetHistoricalCloses(ctx, asset, c.RequiredCloses())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch closes for %s: %w", asset, err)
		}
		out[asset] = closes
	}
	return out, nil
}
