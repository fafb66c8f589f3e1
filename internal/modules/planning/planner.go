// Package planning turns target weights into exchange-ready order intents.
package planning

import (
	"errors"
	"fmt"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Hold reasons
const (
	ReasonBelowMinimum   = "below minimum order value"
	ReasonBelowLot       = "quantity below lot size"
	ReasonNothingToSell  = "no holding to sell"
	ReasonDegenerateRisk = "no usable volatility estimate"
	ReasonNoPrice        = "no positive tick price"
)

// ErrPriceBelowTick means a positive quote floors to zero under the tick table
var ErrPriceBelowTick = errors.New("quote is below the smallest tick")

// Config holds planner parameters
type Config struct {
	MinOrderValue decimal.Decimal
	FeeRate       decimal.Decimal
	LotIncrements map[domain.Asset]decimal.Decimal
	TickTable     TickTable
}

// Hold is an asset for which no order is produced this cycle
type Hold struct {
	Asset     domain.Asset
	TickPrice decimal.Decimal
	DeltaKRW  decimal.Decimal
	Weight    float64
	Reason    string
}

// Plan is the planner output: orders to place and assets left alone
type Plan struct {
	Intents []domain.OrderIntent
	Holds   []Hold
	Weights domain.WeightVector
}

// Sells returns the SELL intents in plan order
func (p Plan) Sells() []domain.OrderIntent {
	return p.bySide(domain.SideSell)
}

// Buys returns the BUY intents in plan order
func (p Plan) Buys() []domain.OrderIntent {
	return p.bySide(domain.SideBuy)
}

func (p Plan) bySide(side domain.Side) []domain.OrderIntent {
	out := make([]domain.OrderIntent, 0, len(p.Intents))
	for _, i := range p.Intents {
		if i.Side == side {
			out = append(out, i)
		}
	}
	return out
}

// Planner diffs target against current value per asset.
//
// The target allocation is net of fees: a BUY delta is the KRW value that
// should end up invested and a SELL delta the KRW that should be recovered,
// so both are grossed up by 1/(1-feeRate) before conversion to quantity.
type Planner struct {
	cfg Config
	log zerolog.Logger
}

// NewPlanner creates a new order planner
func NewPlanner(cfg Config, log zerolog.Logger) *Planner {
	if cfg.LotIncrements == nil {
		cfg.LotIncrements = make(map[domain.Asset]decimal.Decimal)
	}
	return &Planner{
		cfg: cfg,
		log: log.With().Str("component", "order_planner").Logger(),
	}
}

// FeeRate returns the configured fee rate
func (p *Planner) FeeRate() decimal.Decimal {
	return p.cfg.FeeRate
}

// LotIncrement returns the lot increment for an asset (zero when unconstrained)
func (p *Planner) LotIncrement(asset domain.Asset) decimal.Decimal {
	return p.cfg.LotIncrements[asset]
}

// AdjustPrices floors every quote to its tick so a single price is used for
// all value and quantity math in the cycle. A positive quote that floors to
// zero is an error; non-positive quotes pass through for BuildSnapshot to reject.
func (p *Planner) AdjustPrices(quotes map[domain.Asset]decimal.Decimal) (map[domain.Asset]decimal.Decimal, error) {
	out := make(map[domain.Asset]decimal.Decimal, len(quotes))
	for a, q := range quotes {
		floored := p.cfg.TickTable.Floor(q)
		if q.IsPositive() && !floored.IsPositive() {
			return nil, fmt.Errorf("%w: %s quote %s with tick %s", ErrPriceBelowTick, a, q, p.cfg.TickTable.TickFor(q))
		}
		out[a] = floored
	}
	return out, nil
}

// Plan produces order intents for every asset in weight order
func (p *Planner) Plan(snap portfolio.Snapshot, weights domain.WeightVector) Plan {
	plan := Plan{Weights: weights}
	degenerate := weights.IsDegenerate()
	oneMinusFee := decimal.NewFromInt(1).Sub(p.cfg.FeeRate)

	for _, asset := range weights.Assets {
		weight := weights.Get(asset)
		price := p.cfg.TickTable.Floor(snap.Prices[asset])

		if degenerate {
			plan.Holds = append(plan.Holds, Hold{Asset: asset, TickPrice: price, Weight: weight, Reason: ReasonDegenerateRisk})
			continue
		}
		if !price.IsPositive() {
			p.log.Warn().
				Str("asset", asset.String()).
				Str("quote", snap.Prices[asset].String()).
				Msg("No positive tick price, holding")
			plan.Holds = append(plan.Holds, Hold{Asset: asset, TickPrice: price, Weight: weight, Reason: ReasonNoPrice})
			continue
		}

		target := snap.Value.Mul(decimal.NewFromFloat(weight))
		current := snap.Holdings[asset].Mul(price)
		delta := target.Sub(current)

		if delta.Abs().LessThan(p.cfg.MinOrderValue) {
			plan.Holds = append(plan.Holds, Hold{Asset: asset, TickPrice: price, DeltaKRW: delta, Weight: weight, Reason: ReasonBelowMinimum})
			continue
		}

		side := domain.SideBuy
		if delta.IsNegative() {
			side = domain.SideSell
		}

		gross := delta.Abs().Div(oneMinusFee)
		raw := gross.Div(price)
		if side == domain.SideSell {
			raw = raw.Neg()
		}

		lot := p.cfg.LotIncrements[asset]
		qty := QuantizeLot(raw, lot)

		if side == domain.SideSell {
			held := QuantizeLot(snap.Holdings[asset], lot)
			if qty.Abs().GreaterThan(held) {
				p.log.Debug().
					Str("asset", asset.String()).
					Str("planned", qty.Abs().String()).
					Str("held", held.String()).
					Msg("Clamping sell to holding")
				qty = held.Neg()
			}
			if held.IsZero() {
				plan.Holds = append(plan.Holds, Hold{Asset: asset, TickPrice: price, DeltaKRW: delta, Weight: weight, Reason: ReasonNothingToSell})
				continue
			}
		}

		if qty.IsZero() {
			plan.Holds = append(plan.Holds, Hold{Asset: asset, TickPrice: price, DeltaKRW: delta, Weight: weight, Reason: ReasonBelowLot})
			continue
		}

		plan.Intents = append(plan.Intents, domain.OrderIntent{
			Asset:       asset,
			Side:        side,
			TickPrice:   price,
			DeltaKRW:    delta,
			RawQuantity: raw,
			Quantity:    qty,
		})
	}

	return plan
}
