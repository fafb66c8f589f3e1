package portfolio

import (
	"fmt"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Reconciler applies executed fills to PortfolioState.
// Only executed quantity, price and fee are used; planned values never are.
type Reconciler struct {
	now func() time.Time
	log zerolog.Logger
}

// NewReconciler creates a new state reconciler
func NewReconciler(log zerolog.Logger) *Reconciler {
	return &Reconciler{
		now: time.Now,
		log: log.With().Str("component", "reconciler").Logger(),
	}
}

// Apply updates state from a terminal order.
//
// SELL: holdings -= qty; cash += qty*price - fee
// BUY:  holdings += qty; cash -= qty*price + fee
//
// The exchange is the source of truth, so a result below zero means the local
// state had drifted; it is clamped to zero and logged.
func (r *Reconciler) Apply(state *domain.PortfolioState, order *domain.Order) error {
	if order == nil {
		return fmt.Errorf("nil order")
	}
	if order.ExecutedQuantity.IsNegative() || order.ExecutedPrice.IsNegative() || order.FeePaid.IsNegative() {
		return fmt.Errorf("order %s has negative fill values", order.ID)
	}

	qty := order.ExecutedQuantity
	notional := qty.Mul(order.ExecutedPrice)
	held := state.Holding(order.Asset)

	switch order.Side {
	case domain.SideSell:
		held = held.Sub(qty)
		state.Cash = state.Cash.Add(notional).Sub(order.FeePaid)
	case domain.SideBuy:
		held = held.Add(qty)
		state.Cash = state.Cash.Sub(notional).Sub(order.FeePaid)
	default:
		return fmt.Errorf("order %s has unknown side %q", order.ID, order.Side)
	}

	if held.IsNegative() {
		r.log.Warn().
			Str("order_id", order.ID).
			Str("asset", order.Asset.String()).
			Str("holding", held.String()).
			Msg("Holding went negative after reconciliation, clamping to zero")
		held = decimal.Zero
	}
	if state.Cash.IsNegative() {
		r.log.Warn().
			Str("order_id", order.ID).
			Str("cash", state.Cash.String()).
			Msg("Cash went negative after reconciliation, clamping to zero")
		state.Cash = decimal.Zero
	}

	state.Holdings[order.Asset] = held
	state.UpdatedAt = r.now()

	r.log.Debug().
		Str("order_id", order.ID).
		Str("asset", order.Asset.String()).
		Str("side", string(order.Side)).
		Str("executed_qty", qty.String()).
		Str("executed_price", order.ExecutedPrice.String()).
		Str("fee", order.FeePaid.String()).
		Str("cash", state.Cash.String()).
		Msg("Reconciled fill")

	return nil
}
