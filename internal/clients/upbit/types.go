package upbit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Upbit order sides and types
const (
	sideBid = "bid"
	sideAsk = "ask"

	ordTypePrice  = "price"  // market buy sized by KRW amount
	ordTypeMarket = "market" // market sell sized by volume
)

// Upbit order states
const (
	stateWait   = "wait"
	stateWatch  = "watch"
	stateDone   = "done"
	stateCancel = "cancel"
)

// Candle is a daily candle from /v1/candles/days
type Candle struct {
	Market               string  `json:"market"`
	CandleDateTimeUTC    string  `json:"candle_date_time_utc"`
	CandleDateTimeKST    string  `json:"candle_date_time_kst"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
}

// Ticker is a current price from /v1/ticker
type Ticker struct {
	Market     string          `json:"market"`
	TradePrice decimal.Decimal `json:"trade_price"`
	Timestamp  int64           `json:"timestamp"`
}

// Trade is one fill of an order
type Trade struct {
	Market string          `json:"market"`
	UUID   string          `json:"uuid"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Funds  decimal.Decimal `json:"funds"`
	Side   string          `json:"side"`
}

// OrderResponse is returned by POST /v1/orders and GET /v1/order
type OrderResponse struct {
	UUID            string              `json:"uuid"`
	Side            string              `json:"side"`
	OrdType         string              `json:"ord_type"`
	Price           decimal.NullDecimal `json:"price"`
	State           string              `json:"state"`
	Market          string              `json:"market"`
	CreatedAt       string              `json:"created_at"`
	Volume          decimal.NullDecimal `json:"volume"`
	RemainingVolume decimal.NullDecimal `json:"remaining_volume"`
	ExecutedVolume  decimal.Decimal     `json:"executed_volume"`
	PaidFee         decimal.Decimal     `json:"paid_fee"`
	TradesCount     int                 `json:"trades_count"`
	Trades          []Trade             `json:"trades"`
}

// Account is one currency balance from /v1/accounts
type Account struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

// APIError is an error response from Upbit
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit API error %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// Retryable reports whether the request may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}
