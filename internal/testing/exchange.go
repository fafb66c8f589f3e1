package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/shopspring/decimal"
)

// FakeExchange is an in-memory domain.ExchangeClient for tests.
// Every call is appended to Journal so tests can assert ordering.
type FakeExchange struct {
	mu sync.Mutex

	Closes  map[domain.Asset][]float64
	Prices  map[domain.Asset]decimal.Decimal
	FeeRate decimal.Decimal

	// ExecPrices overrides the fill price per asset (slippage)
	ExecPrices map[domain.Asset]decimal.Decimal
	// FillRatio fills only part of an order, which then ends CANCELLED
	FillRatio map[domain.Asset]decimal.Decimal
	// SubmitErr makes SubmitOrder fail for an asset
	SubmitErr map[domain.Asset]error
	// NeverFill keeps orders for an asset PENDING forever
	NeverFill map[domain.Asset]bool
	// PendingPolls is the number of PENDING answers before a fill
	PendingPolls int
	// StatusErrs is the number of status calls that fail before succeeding
	StatusErrs int
	// CloseErr makes GetHistoricalCloses fail
	CloseErr error

	Balances *domain.Balances

	Journal  []string
	Requests []domain.OrderRequest

	orders map[string]*fakeOrder
	seq    int
}

type fakeOrder struct {
	order domain.Order
	polls int
}

// NewFakeExchange creates a fake with empty market data
func NewFakeExchange() *FakeExchange {
	return &FakeExchange{
		Closes:     make(map[domain.Asset][]float64),
		Prices:     make(map[domain.Asset]decimal.Decimal),
		ExecPrices: make(map[domain.Asset]decimal.Decimal),
		FillRatio:  make(map[domain.Asset]decimal.Decimal),
		SubmitErr:  make(map[domain.Asset]error),
		NeverFill:  make(map[domain.Asset]bool),
		orders:     make(map[string]*fakeOrder),
	}
}

var _ domain.ExchangeClient = (*FakeExchange)(nil)

func (f *FakeExchange) record(entry string) {
	f.Journal = append(f.Journal, entry)
}

// GetHistoricalCloses returns the configured closes (last count of them)
func (f *FakeExchange) GetHistoricalCloses(ctx context.Context, asset domain.Asset, count int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("closes:" + asset.String())

	if f.CloseErr != nil {
		return nil, f.CloseErr
	}
	closes := f.Closes[asset]
	if len(closes) > count {
		closes = closes[len(closes)-count:]
	}
	return append([]float64(nil), closes...), nil
}

// GetCurrentPrice returns the configured price
func (f *FakeExchange) GetCurrentPrice(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("price:" + asset.String())

	p, ok := f.Prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("no ticker for %s", asset)
	}
	return p, nil
}

// SubmitOrder creates an order that fills on a later status call
func (f *FakeExchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("submit:%s:%s", req.Side, req.Asset))
	f.Requests = append(f.Requests, req)

	if err := f.SubmitErr[req.Asset]; err != nil {
		return "", err
	}

	price, ok := f.ExecPrices[req.Asset]
	if !ok {
		price = f.Prices[req.Asset]
	}
	if !price.IsPositive() {
		return "", errors.New("no price to fill at")
	}

	qty := req.Volume
	if req.Side == domain.SideBuy {
		qty = req.Notional.Div(price)
	}
	status := domain.OrderStatusDone
	if ratio, ok := f.FillRatio[req.Asset]; ok {
		qty = qty.Mul(ratio)
		status = domain.OrderStatusCancelled
	}

	f.seq++
	id := fmt.Sprintf("order-%d", f.seq)
	f.orders[id] = &fakeOrder{order: domain.Order{
		ID:               id,
		Asset:            req.Asset,
		Side:             req.Side,
		Status:           status,
		ExecutedQuantity: qty,
		ExecutedPrice:    price,
		FeePaid:          qty.Mul(price).Mul(f.FeeRate),
	}}
	return id, nil
}

// GetOrderStatus reports PENDING for PendingPolls calls, then the fill
func (f *FakeExchange) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("status:" + orderID)

	if f.StatusErrs > 0 {
		f.StatusErrs--
		return nil, errors.New("status temporarily unavailable")
	}

	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	o.polls++

	if f.NeverFill[o.order.Asset] || o.polls <= f.PendingPolls {
		return &domain.Order{
			ID:               o.order.ID,
			Asset:            o.order.Asset,
			Side:             o.order.Side,
			Status:           domain.OrderStatusPending,
			ExecutedQuantity: decimal.Zero,
			ExecutedPrice:    decimal.Zero,
			FeePaid:          decimal.Zero,
		}, nil
	}

	out := o.order
	return &out, nil
}

// GetBalances returns the configured balances
func (f *FakeExchange) GetBalances(ctx context.Context) (*domain.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("balances")

	if f.Balances == nil {
		return nil, errors.New("balances not configured")
	}
	return f.Balances, nil
}

// Entries returns a copy of the journal
func (f *FakeExchange) Entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Journal...)
}
