package paper

import (
	"context"
	"testing"

	"github.com/aristath/volbalance/internal/domain"
	testingpkg "github.com/aristath/volbalance/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper(t *testing.T) (*Exchange, *testingpkg.FakeExchange) {
	t.Helper()
	market := testingpkg.NewFakeExchange()
	market.Prices["BTC"] = d("50000000")
	market.Prices["XRP"] = d("1000")
	market.Closes["BTC"] = testingpkg.FlatCloses(5, 50000000)

	ex := NewExchange(market, d("0.0005"), &domain.Balances{
		Cash:     d("200000"),
		Holdings: map[domain.Asset]decimal.Decimal{"BTC": d("0.012")},
	}, zerolog.Nop())
	return ex, market
}

func TestExchange_DelegatesMarketData(t *testing.T) {
	ex, _ := newPaper(t)

	price, err := ex.GetCurrentPrice(context.Background(), "XRP")
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(price))

	closes, err := ex.GetHistoricalCloses(context.Background(), "BTC", 5)
	require.NoError(t, err)
	assert.Len(t, closes, 5)
}

func TestExchange_BuyFillsAtQuote(t *testing.T) {
	ex, _ := newPaper(t)
	ctx := context.Background()

	id, err := ex.SubmitOrder(ctx, domain.OrderRequest{Asset: "XRP", Side: domain.SideBuy, Notional: d("100000")})
	require.NoError(t, err)

	order, err := ex.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDone, order.Status)
	assert.True(t, d("100").Equal(order.ExecutedQuantity))
	assert.True(t, d("1000").Equal(order.ExecutedPrice))
	assert.True(t, d("50").Equal(order.FeePaid))

	b, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.True(t, d("99950").Equal(b.Cash))
	assert.True(t, d("100").Equal(b.Holdings["XRP"]))
}

func TestExchange_SellCreditsNetProceeds(t *testing.T) {
	ex, _ := newPaper(t)
	ctx := context.Background()

	_, err := ex.SubmitOrder(ctx, domain.OrderRequest{Asset: "BTC", Side: domain.SideSell, Volume: d("0.002")})
	require.NoError(t, err)

	b, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	// 200000 + 100000 - 50 fee
	assert.True(t, d("299950").Equal(b.Cash))
	assert.True(t, d("0.01").Equal(b.Holdings["BTC"]))
	assert.Len(t, ex.Fills(), 1)
}

func TestExchange_RejectsOverspend(t *testing.T) {
	ex, _ := newPaper(t)
	ctx := context.Background()

	_, err := ex.SubmitOrder(ctx, domain.OrderRequest{Asset: "XRP", Side: domain.SideBuy, Notional: d("200000")})
	assert.Error(t, err, "fee pushes the buy over available cash")

	_, err = ex.SubmitOrder(ctx, domain.OrderRequest{Asset: "BTC", Side: domain.SideSell, Volume: d("1")})
	assert.Error(t, err)

	b, err := ex.GetBalances(ctx)
	require.NoError(t, err)
	assert.True(t, d("200000").Equal(b.Cash))
	assert.Empty(t, ex.Fills())
}

func TestExchange_MissingQuote(t *testing.T) {
	ex, _ := newPaper(t)

	_, err := ex.SubmitOrder(context.Background(), domain.OrderRequest{Asset: "MANA", Side: domain.SideBuy, Notional: d("10000")})
	assert.Error(t, err)
}

func TestExchange_UnknownOrder(t *testing.T) {
	ex, _ := newPaper(t)

	_, err := ex.GetOrderStatus(context.Background(), "nope")
	assert.Error(t, err)
}
