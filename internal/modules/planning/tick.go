package planning

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TickStep applies Tick to every price >= MinPrice
type TickStep struct {
	MinPrice decimal.Decimal
	Tick     decimal.Decimal
}

// TickTable is the exchange's price-unit table: larger prices use coarser ticks
type TickTable struct {
	steps []TickStep // sorted by MinPrice, descending
}

// NewTickTable creates a tick table. Steps are sorted descending by MinPrice.
func NewTickTable(steps []TickStep) TickTable {
	sorted := append([]TickStep(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPrice.GreaterThan(sorted[j].MinPrice)
	})
	return TickTable{steps: sorted}
}

// TickFor returns the tick for a price, or zero when no step applies
func (t TickTable) TickFor(price decimal.Decimal) decimal.Decimal {
	for _, s := range t.steps {
		if price.GreaterThanOrEqual(s.MinPrice) {
			return s.Tick
		}
	}
	return decimal.Zero
}

// Floor rounds price down to a multiple of its band's tick
func (t TickTable) Floor(price decimal.Decimal) decimal.Decimal {
	tick := t.TickFor(price)
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// QuantizeLot truncates q toward zero to a multiple of lot, preserving sign.
// A non-positive lot leaves q unchanged.
func QuantizeLot(q, lot decimal.Decimal) decimal.Decimal {
	if !lot.IsPositive() {
		return q
	}
	abs := q.Abs().Div(lot).Floor().Mul(lot)
	if q.IsNegative() {
		return abs.Neg()
	}
	return abs
}
