package portfolio

import (
	"testing"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_Sell(t *testing.T) {
	r := NewReconciler(logger.Nop())
	state := domain.NewPortfolioState(d("1000"))
	state.Holdings["BTC"] = d("2")

	err := r.Apply(state, &domain.Order{
		ID: "o1", Asset: "BTC", Side: domain.SideSell, Status: domain.OrderStatusDone,
		ExecutedQuantity: d("0.5"), ExecutedPrice: d("100"), FeePaid: d("0.025"),
	})
	require.NoError(t, err)

	assert.True(t, state.Holding("BTC").Equal(d("1.5")))
	assert.True(t, state.Cash.Equal(d("1049.975")), state.Cash.String())
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestReconciler_Buy(t *testing.T) {
	r := NewReconciler(logger.Nop())
	state := domain.NewPortfolioState(d("1000"))

	err := r.Apply(state, &domain.Order{
		ID: "o1", Asset: "XRP", Side: domain.SideBuy, Status: domain.OrderStatusDone,
		ExecutedQuantity: d("3"), ExecutedPrice: d("200"), FeePaid: d("0.3"),
	})
	require.NoError(t, err)

	assert.True(t, state.Holding("XRP").Equal(d("3")))
	assert.True(t, state.Cash.Equal(d("399.7")), state.Cash.String())
}

func TestReconciler_UsesExecutedNotPlanned(t *testing.T) {
	r := NewReconciler(logger.Nop())
	state := domain.NewPortfolioState(d("1000"))

	// Cancelled with a partial fill: only the executed part counts
	err := r.Apply(state, &domain.Order{
		ID: "o1", Asset: "XRP", Side: domain.SideBuy, Status: domain.OrderStatusCancelled,
		ExecutedQuantity: d("1"), ExecutedPrice: d("210"), FeePaid: d("0.105"),
	})
	require.NoError(t, err)

	assert.True(t, state.Holding("XRP").Equal(d("1")))
	assert.True(t, state.Cash.Equal(d("789.895")))
}

func TestReconciler_ClampsNegativeToZero(t *testing.T) {
	r := NewReconciler(logger.Nop())

	state := domain.NewPortfolioState(d("10"))
	state.Holdings["BTC"] = d("1")
	require.NoError(t, r.Apply(state, &domain.Order{
		ID: "o1", Asset: "BTC", Side: domain.SideSell,
		ExecutedQuantity: d("1.5"), ExecutedPrice: d("10"), FeePaid: d("0"),
	}))
	assert.True(t, state.Holding("BTC").IsZero())

	state = domain.NewPortfolioState(d("10"))
	require.NoError(t, r.Apply(state, &domain.Order{
		ID: "o2", Asset: "BTC", Side: domain.SideBuy,
		ExecutedQuantity: d("1"), ExecutedPrice: d("20"), FeePaid: d("0"),
	}))
	assert.True(t, state.Cash.IsZero())
}

func TestReconciler_RejectsBadOrders(t *testing.T) {
	r := NewReconciler(logger.Nop())
	state := domain.NewPortfolioState(d("10"))

	assert.Error(t, r.Apply(state, nil))
	assert.Error(t, r.Apply(state, &domain.Order{ID: "x", Asset: "BTC", Side: "HOLD"}))
	assert.Error(t, r.Apply(state, &domain.Order{ID: "y", Asset: "BTC", Side: domain.SideBuy, ExecutedQuantity: d("-1")}))
	assert.True(t, state.Cash.Equal(d("10")), "rejected orders leave state untouched")
}
