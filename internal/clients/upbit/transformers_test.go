package upbit

import (
	"net/url"
	"testing"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapState(t *testing.T) {
	tests := []struct {
		state    string
		expected domain.OrderStatus
	}{
		{"wait", domain.OrderStatusPending},
		{"watch", domain.OrderStatusPending},
		{"done", domain.OrderStatusDone},
		{"cancel", domain.OrderStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, err := mapState(tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := mapState("exploded")
	assert.Error(t, err)
}

func TestTransformOrder_NoTrades(t *testing.T) {
	order, err := transformOrder(OrderResponse{UUID: "x", Side: "bid", State: "wait", Market: "KRW-MANA"})
	require.NoError(t, err)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.Equal(t, domain.Asset("MANA"), order.Asset)
	assert.True(t, order.ExecutedPrice.IsZero())
}

func TestQueryHash_IsOrderIndependent(t *testing.T) {
	a := url.Values{}
	a.Set("market", "KRW-BTC")
	a.Set("side", "ask")

	b := url.Values{}
	b.Set("side", "ask")
	b.Set("market", "KRW-BTC")

	assert.Equal(t, queryHash(a), queryHash(b))
	assert.Len(t, queryHash(a), 128)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, retryBaseDelay, backoff(0))
	assert.Equal(t, 2*retryBaseDelay, backoff(1))
	assert.Equal(t, retryMaxDelay, backoff(10))
	assert.Equal(t, retryMaxDelay, backoff(100))
}
