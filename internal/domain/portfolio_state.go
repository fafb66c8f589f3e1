package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioState is the engine-owned record of cash and holdings.
// It is mutated only by reconciliation after confirmed fills.
type PortfolioState struct {
	Cash        decimal.Decimal
	Holdings    map[Asset]decimal.Decimal
	LastWeights map[Asset]float64
	UpdatedAt   time.Time
}

// NewPortfolioState creates an empty state holding only cash
func NewPortfolioState(cash decimal.Decimal) *PortfolioState {
	return &PortfolioState{
		Cash:        cash,
		Holdings:    make(map[Asset]decimal.Decimal),
		LastWeights: make(map[Asset]float64),
	}
}

// Holding returns the quantity held for an asset (zero when absent)
func (s *PortfolioState) Holding(asset Asset) decimal.Decimal {
	if q, ok := s.Holdings[asset]; ok {
		return q
	}
	return decimal.Zero
}

// Clone returns a deep copy
func (s *PortfolioState) Clone() *PortfolioState {
	c := &PortfolioState{
		Cash:        s.Cash,
		Holdings:    make(map[Asset]decimal.Decimal, len(s.Holdings)),
		LastWeights: make(map[Asset]float64, len(s.LastWeights)),
		UpdatedAt:   s.UpdatedAt,
	}
	for a, q := range s.Holdings {
		c.Holdings[a] = q
	}
	for a, w := range s.LastWeights {
		c.LastWeights[a] = w
	}
	return c
}
