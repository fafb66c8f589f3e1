package upbit

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/shopspring/decimal"
)

// orderParams maps an engine order request to Upbit order fields.
// Market buys are sized by whole-KRW notional, market sells by volume.
func orderParams(req domain.OrderRequest) (url.Values, error) {
	params := url.Values{
		"market": {req.Asset.Market()},
	}

	switch req.Side {
	case domain.SideBuy:
		notional := req.Notional.Truncate(0)
		if !notional.IsPositive() {
			return nil, fmt.Errorf("buy order for %s needs a positive notional, got %s", req.Asset, req.Notional)
		}
		params["side"] = []string{sideBid}
		params["ord_type"] = []string{ordTypePrice}
		params["price"] = []string{notional.String()}
	case domain.SideSell:
		if !req.Volume.IsPositive() {
			return nil, fmt.Errorf("sell order for %s needs a positive volume, got %s", req.Asset, req.Volume)
		}
		params["side"] = []string{sideAsk}
		params["ord_type"] = []string{ordTypeMarket}
		params["volume"] = []string{req.Volume.String()}
	default:
		return nil, fmt.Errorf("unsupported order side %q", req.Side)
	}

	return params, nil
}

// transformOrder converts an Upbit order to the engine's view.
// The executed price is the volume-weighted average over trades.
func transformOrder(resp OrderResponse) (*domain.Order, error) {
	status, err := mapState(resp.State)
	if err != nil {
		return nil, err
	}

	side := domain.SideBuy
	if resp.Side == sideAsk {
		side = domain.SideSell
	}

	order := &domain.Order{
		ID:               resp.UUID,
		Asset:            assetFromMarket(resp.Market),
		Side:             side,
		Status:           status,
		ExecutedQuantity: resp.ExecutedVolume,
		FeePaid:          resp.PaidFee,
	}

	funds, volume := decimal.Zero, decimal.Zero
	for _, t := range resp.Trades {
		funds = funds.Add(t.Funds)
		volume = volume.Add(t.Volume)
	}
	if volume.IsPositive() {
		order.ExecutedPrice = funds.Div(volume)
	}

	return order, nil
}

func mapState(state string) (domain.OrderStatus, error) {
	switch state {
	case stateWait, stateWatch:
		return domain.OrderStatusPending, nil
	case stateDone:
		return domain.OrderStatusDone, nil
	case stateCancel:
		return domain.OrderStatusCancelled, nil
	}
	return "", fmt.Errorf("unknown order state %q", state)
}

// transformAccounts splits accounts into KRW cash and asset holdings.
// Locked quantities count as held.
func transformAccounts(accounts []Account) *domain.Balances {
	b := &domain.Balances{
		Cash:     decimal.Zero,
		Holdings: make(map[domain.Asset]decimal.Decimal),
	}
	for _, acc := range accounts {
		if acc.Currency == domain.QuoteCurrency {
			b.Cash = acc.Balance
			continue
		}
		qty := acc.Balance.Add(acc.Locked)
		if qty.IsPositive() {
			b.Holdings[domain.Asset(acc.Currency)] = qty
		}
	}
	return b
}

func closesOldestFirst(candles []Candle) []float64 {
	closes := make([]float64, 0, len(candles))
	for i := len(candles) - 1; i >= 0; i-- {
		closes = append(closes, candles[i].TradePrice)
	}
	return closes
}

func assetFromMarket(market string) domain.Asset {
	if i := strings.IndexByte(market, '-'); i >= 0 {
		return domain.Asset(market[i+1:])
	}
	return domain.Asset(market)
}
