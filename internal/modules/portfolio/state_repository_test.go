package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	testingpkg "github.com/aristath/volbalance/internal/testing"
	"github.com/aristath/volbalance/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRepository_LoadEmptyUsesStartingCash(t *testing.T) {
	db := testingpkg.NewTestDB(t, "state")
	repo := NewStateRepository(db.Conn(), d("10000000"), logger.Nop())

	state, err := repo.Load(context.Background())
	require.NoError(t, err)

	assert.True(t, state.Cash.Equal(d("10000000")))
	assert.Empty(t, state.Holdings)
	assert.True(t, state.Holding("BTC").IsZero())
}

func TestStateRepository_RoundTrip(t *testing.T) {
	db := testingpkg.NewTestDB(t, "state")
	repo := NewStateRepository(db.Conn(), d("10000000"), logger.Nop())
	ctx := context.Background()

	original := domain.NewPortfolioState(d("123456.789"))
	original.Holdings["BTC"] = d("0.01234567")
	original.Holdings["XRP"] = d("1500")
	original.Holdings["MANA"] = d("0")
	original.LastWeights["BTC"] = 0.5
	original.LastWeights["XRP"] = 0.3
	original.UpdatedAt = time.Date(2026, 10, 16, 9, 0, 0, 123, time.UTC)

	require.NoError(t, repo.Save(ctx, original))
	loaded, err := repo.Load(ctx)
	require.NoError(t, err)

	assert.True(t, original.Cash.Equal(loaded.Cash))
	require.Len(t, loaded.Holdings, len(original.Holdings))
	for asset, q := range original.Holdings {
		assert.True(t, q.Equal(loaded.Holding(asset)), asset)
	}
	assert.Equal(t, original.LastWeights, loaded.LastWeights)
	assert.True(t, original.UpdatedAt.Equal(loaded.UpdatedAt))
}

func TestStateRepository_SaveReplacesPreviousState(t *testing.T) {
	db := testingpkg.NewTestDB(t, "state")
	repo := NewStateRepository(db.Conn(), d("0"), logger.Nop())
	ctx := context.Background()

	first := domain.NewPortfolioState(d("1"))
	first.Holdings["BTC"] = d("1")
	require.NoError(t, repo.Save(ctx, first))

	second := domain.NewPortfolioState(d("2"))
	require.NoError(t, repo.Save(ctx, second))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, loaded.Cash.Equal(d("2")))
	assert.NotContains(t, loaded.Holdings, domain.Asset("BTC"))
}

func TestStateRepository_SaveFailureIsPersistenceError(t *testing.T) {
	db := testingpkg.NewTestDB(t, "state")
	repo := NewStateRepository(db.Conn(), d("0"), logger.Nop())
	require.NoError(t, db.Close())

	err := repo.Save(context.Background(), domain.NewPortfolioState(d("1")))
	assert.ErrorIs(t, err, domain.ErrPersistence)
}
