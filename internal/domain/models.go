// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteCurrency is the currency every asset is quoted against.
const QuoteCurrency = "KRW"

// Asset is a tradable symbol (e.g. BTC) quoted against QuoteCurrency.
type Asset string

// Market returns the exchange market code, e.g. "KRW-BTC".
func (a Asset) Market() string {
	return QuoteCurrency + "-" + string(a)
}

func (a Asset) String() string {
	return string(a)
}

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects how the order quantity is expressed to the exchange
type OrderType string

const (
	// OrderTypeMarketSell is a market sell sized by asset volume
	OrderTypeMarketSell OrderType = "MARKET_VOLUME"
	// OrderTypeMarketBuy is a market buy sized by KRW notional
	OrderTypeMarketBuy OrderType = "MARKET_NOTIONAL"
)

// OrderStatus is the lifecycle state of a submitted order
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusDone      OrderStatus = "DONE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusTimedOut is assigned locally when polling gives up.
	// The exchange-side order may still fill; it needs manual review.
	OrderStatusTimedOut OrderStatus = "TIMED_OUT"
)

// IsTerminal reports whether no further exchange-side transition occurs.
// TIMED_OUT is terminal for the engine only.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDone, OrderStatusCancelled, OrderStatusTimedOut:
		return true
	}
	return false
}

// OrderIntent is a planned order for one asset in one cycle.
// RawQuantity and Quantity are signed: negative for SELL.
type OrderIntent struct {
	Asset       Asset
	Side        Side
	TickPrice   decimal.Decimal
	DeltaKRW    decimal.Decimal
	RawQuantity decimal.Decimal
	Quantity    decimal.Decimal
}

// AbsQuantity returns the unsigned quantized quantity
func (i OrderIntent) AbsQuantity() decimal.Decimal {
	return i.Quantity.Abs()
}

// OrderRequest is what gets sent to the exchange.
// Volume is set for market sells, Notional for market buys.
type OrderRequest struct {
	Asset    Asset
	Side     Side
	Type     OrderType
	Volume   decimal.Decimal
	Notional decimal.Decimal
}

// Order is the exchange's view of a submitted order
type Order struct {
	ID               string
	Asset            Asset
	Side             Side
	Status           OrderStatus
	ExecutedQuantity decimal.Decimal
	ExecutedPrice    decimal.Decimal // volume-weighted average fill price
	FeePaid          decimal.Decimal
}

// Action is the ledger action column
type Action string

const (
	ActionHold    Action = "HOLD"
	ActionBuy     Action = "BUY"
	ActionSell    Action = "SELL"
	ActionSkip    Action = "SKIP"
	ActionTimeout Action = "TIMEOUT"
)

// LedgerRecord is one append-only ledger row
type LedgerRecord struct {
	Timestamp      time.Time
	CycleID        string
	Asset          Asset
	Action         Action
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	Fee            decimal.Decimal
	Cash           decimal.Decimal // cash after the action
	PortfolioValue decimal.Decimal // portfolio value after the action
	Note           string
}

// Balances is the exchange-reported account state
type Balances struct {
	Cash     decimal.Decimal
	Holdings map[Asset]decimal.Decimal
}
