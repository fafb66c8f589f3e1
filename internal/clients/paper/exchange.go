// Package paper provides a simulated exchange that fills every market order
// immediately at the live quote against virtual balances.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// volumePrecision is the number of decimals a simulated fill keeps
const volumePrecision = 8

// Fill is one simulated execution
type Fill struct {
	OrderID  string
	Asset    domain.Asset
	Side     domain.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fee      decimal.Decimal
}

// Exchange simulates order execution. Market data comes from the wrapped
// MarketData, usually the live Upbit client.
type Exchange struct {
	market   domain.MarketData
	feeRate  decimal.Decimal
	cash     decimal.Decimal
	holdings map[domain.Asset]decimal.Decimal
	orders   map[string]*domain.Order
	fills    []Fill
	mu       sync.Mutex
	log      zerolog.Logger
}

var _ domain.ExchangeClient = (*Exchange)(nil)

// NewExchange creates a paper exchange funded with the given balances
func NewExchange(market domain.MarketData, feeRate decimal.Decimal, initial *domain.Balances, log zerolog.Logger) *Exchange {
	e := &Exchange{
		market:   market,
		feeRate:  feeRate,
		cash:     decimal.Zero,
		holdings: make(map[domain.Asset]decimal.Decimal),
		orders:   make(map[string]*domain.Order),
		log:      log.With().Str("client", "paper").Logger(),
	}
	if initial != nil {
		e.cash = initial.Cash
		for a, q := range initial.Holdings {
			e.holdings[a] = q
		}
	}
	return e
}

// GetHistoricalCloses delegates to the wrapped market data source
func (e *Exchange) GetHistoricalCloses(ctx context.Context, asset domain.Asset, count int) ([]float64, error) {
	return e.market.GetHistoricalCloses(ctx, asset, count)
}

// GetCurrentPrice delegates to the wrapped market data source
func (e *Exchange) GetCurrentPrice(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	return e.market.GetCurrentPrice(ctx, asset)
}

// SubmitOrder fills the order in full at the current quote
func (e *Exchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	price, err := e.market.GetCurrentPrice(ctx, req.Asset)
	if err != nil {
		return "", fmt.Errorf("no price available for %s: %w", req.Asset, err)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("no price available for %s", req.Asset)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var qty, notional decimal.Decimal
	switch req.Side {
	case domain.SideBuy:
		qty = req.Notional.Div(price).Truncate(volumePrecision)
		notional = qty.Mul(price)
	case domain.SideSell:
		qty = req.Volume
		notional = qty.Mul(price)
	default:
		return "", fmt.Errorf("unsupported order side %q", req.Side)
	}
	if !qty.IsPositive() {
		return "", fmt.Errorf("order for %s has no volume", req.Asset)
	}
	fee := notional.Mul(e.feeRate)

	if req.Side == domain.SideBuy {
		required := notional.Add(fee)
		if e.cash.LessThan(required) {
			return "", fmt.Errorf("insufficient KRW balance: need %s, have %s", required, e.cash)
		}
		e.cash = e.cash.Sub(required)
		e.holdings[req.Asset] = e.holdings[req.Asset].Add(qty)
	} else {
		held := e.holdings[req.Asset]
		if held.LessThan(qty) {
			return "", fmt.Errorf("insufficient %s balance: need %s, have %s", req.Asset, qty, held)
		}
		e.holdings[req.Asset] = held.Sub(qty)
		e.cash = e.cash.Add(notional.Sub(fee))
	}

	id := uuid.NewString()
	e.orders[id] = &domain.Order{
		ID:               id,
		Asset:            req.Asset,
		Side:             req.Side,
		Status:           domain.OrderStatusDone,
		ExecutedQuantity: qty,
		ExecutedPrice:    price,
		FeePaid:          fee,
	}
	e.fills = append(e.fills, Fill{OrderID: id, Asset: req.Asset, Side: req.Side, Price: price, Quantity: qty, Fee: fee})

	e.log.Info().
		Str("order_id", id).
		Str("asset", string(req.Asset)).
		Str("side", string(req.Side)).
		Str("price", price.String()).
		Str("quantity", qty.String()).
		Msg("Paper order filled")

	return id, nil
}

// GetOrderStatus returns a previously filled order
func (e *Exchange) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	c := *order
	return &c, nil
}

// GetBalances returns the virtual balances
func (e *Exchange) GetBalances(ctx context.Context) (*domain.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := &domain.Balances{
		Cash:     e.cash,
		Holdings: make(map[domain.Asset]decimal.Decimal, len(e.holdings)),
	}
	for a, q := range e.holdings {
		if q.IsPositive() {
			b.Holdings[a] = q
		}
	}
	return b, nil
}

// Fills returns all simulated executions
func (e *Exchange) Fills() []Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]Fill, len(e.fills))
	copy(result, e.fills)
	return result
}
