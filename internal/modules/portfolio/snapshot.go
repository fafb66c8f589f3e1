// Package portfolio values, reconciles and persists portfolio state.
package portfolio

import (
	"fmt"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/shopspring/decimal"
)

// Snapshot is the portfolio valued at one set of prices
type Snapshot struct {
	Cash          decimal.Decimal
	Value         decimal.Decimal
	Prices        map[domain.Asset]decimal.Decimal
	Holdings      map[domain.Asset]decimal.Decimal
	CurrentValues map[domain.Asset]decimal.Decimal
}

// BuildSnapshot computes value = cash + Σ holdings × price over assets.
// A missing or non-positive price is an error (never defaulted to zero).
func BuildSnapshot(state *domain.PortfolioState, assets []domain.Asset, prices map[domain.Asset]decimal.Decimal) (Snapshot, error) {
	snap := Snapshot{
		Cash:          state.Cash,
		Value:         state.Cash,
		Prices:        make(map[domain.Asset]decimal.Decimal, len(assets)),
		Holdings:      make(map[domain.Asset]decimal.Decimal, len(assets)),
		CurrentValues: make(map[domain.Asset]decimal.Decimal, len(assets)),
	}

	for _, asset := range assets {
		price, ok := prices[asset]
		if !ok || !price.IsPositive() {
			return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrMissingQuote, asset)
		}

		held := state.Holding(asset)
		value := held.Mul(price)

		snap.Prices[asset] = price
		snap.Holdings[asset] = held
		snap.CurrentValues[asset] = value
		snap.Value = snap.Value.Add(value)
	}

	return snap, nil
}

// ValueOf re-values a (possibly updated) state at the snapshot's prices
func (s Snapshot) ValueOf(state *domain.PortfolioState) decimal.Decimal {
	value := state.Cash
	for asset, price := range s.Prices {
		value = value.Add(state.Holding(asset).Mul(price))
	}
	return value
}
