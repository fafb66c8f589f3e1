package lock

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rebalance.lock")
	first := New(path, zerolog.Nop())
	second := New(path, zerolog.Nop())

	release, err := first.Acquire(context.Background())
	require.NoError(t, err)

	_, err = second.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrCycleInProgress)

	require.NoError(t, release())

	release2, err := second.Acquire(context.Background())
	require.NoError(t, err)
	assert.NoError(t, release2())
}

func TestLocker_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "rebalance.lock")

	release, err := New(path, zerolog.Nop()).Acquire(context.Background())
	require.NoError(t, err)
	assert.NoError(t, release())
}

func TestLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(filepath.Join(t.TempDir(), "l"), zerolog.Nop()).Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
