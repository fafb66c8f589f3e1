package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData provides historical and live prices
type MarketData interface {
	// GetHistoricalCloses returns up to count daily closes, oldest first
	GetHistoricalCloses(ctx context.Context, asset Asset, count int) ([]float64, error)

	// GetCurrentPrice returns the last traded price in KRW
	GetCurrentPrice(ctx context.Context, asset Asset) (decimal.Decimal, error)
}

// OrderGateway submits orders and reports their status
type OrderGateway interface {
	// SubmitOrder places an order and returns the exchange's order handle
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)

	// GetOrderStatus returns the current status and fills of an order
	GetOrderStatus(ctx context.Context, orderID string) (*Order, error)
}

// BalanceSource reports account balances held at the exchange
type BalanceSource interface {
	GetBalances(ctx context.Context) (*Balances, error)
}

// ExchangeClient is the full exchange surface used by the engine.
// Authentication and transport are the implementation's concern.
type ExchangeClient interface {
	MarketData
	OrderGateway
	BalanceSource
}

// StateStore loads and saves PortfolioState
type StateStore interface {
	// Load returns the persisted state. Missing keys default to zero
	// quantity and the configured starting cash.
	Load(ctx context.Context) (*PortfolioState, error)

	// Save persists the full state atomically
	Save(ctx context.Context, state *PortfolioState) error
}

// LedgerSink is an append-only ledger writer
type LedgerSink interface {
	Append(ctx context.Context, records []LedgerRecord) error
}
