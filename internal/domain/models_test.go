package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAsset_Market(t *testing.T) {
	assert.Equal(t, "KRW-BTC", Asset("BTC").Market())
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusSubmitted, false},
		{OrderStatusPending, false},
		{OrderStatusDone, true},
		{OrderStatusCancelled, true},
		{OrderStatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestPortfolioState_HoldingDefaultsToZero(t *testing.T) {
	s := NewPortfolioState(decimal.NewFromInt(1000))
	assert.True(t, s.Holding("BTC").IsZero())
}

func TestPortfolioState_CloneIsDeep(t *testing.T) {
	s := NewPortfolioState(decimal.NewFromInt(1000))
	s.Holdings["BTC"] = decimal.NewFromFloat(0.5)
	s.LastWeights["BTC"] = 1

	c := s.Clone()
	c.Holdings["BTC"] = decimal.NewFromInt(2)
	c.LastWeights["BTC"] = 0
	c.Cash = decimal.Zero

	assert.True(t, s.Holding("BTC").Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 1.0, s.LastWeights["BTC"])
	assert.True(t, s.Cash.Equal(decimal.NewFromInt(1000)))
}

func TestWeightVector(t *testing.T) {
	w := NewWeightVector([]Asset{"BTC", "XRP"})
	assert.True(t, w.IsDegenerate())
	assert.Equal(t, 0.0, w.Sum())

	w.Weights["BTC"] = 0.25
	w.Weights["XRP"] = 0.75
	assert.False(t, w.IsDegenerate())
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
	assert.Equal(t, 0.0, w.Get("MANA"))
}
