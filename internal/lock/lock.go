// Package lock provides the single-instance lock held around a rebalance cycle.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Locker guards a cycle with an exclusive advisory file lock.
// The lock is released by the OS if the process dies.
type Locker struct {
	path string
	log  zerolog.Logger
}

// New creates a locker for the given lock file path
func New(path string, log zerolog.Logger) *Locker {
	return &Locker{
		path: path,
		log:  log.With().Str("component", "cycle_lock").Logger(),
	}
}

// Path returns the lock file path
func (l *Locker) Path() string {
	return l.path
}

// Acquire takes the lock without waiting. A lock held by another cycle
// yields domain.ErrCycleInProgress. The returned release func must be
// called on every exit path.
func (l *Locker) Acquire(ctx context.Context) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(l.path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: lock %s is held", domain.ErrCycleInProgress, l.path)
	}

	l.log.Debug().Str("path", l.path).Msg("Cycle lock acquired")

	return func() error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", l.path, err)
		}
		l.log.Debug().Str("path", l.path).Msg("Cycle lock released")
		return nil
	}, nil
}
