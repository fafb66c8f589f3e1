package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// DefaultCycleTimeout is the lower bound for one scheduled cycle
const DefaultCycleTimeout = 30 * time.Minute

// cycleOverhead covers market data, planning and persistence
const cycleOverhead = 5 * time.Minute

// CycleTimeout returns a deadline long enough for every order of a cycle to
// use its full poll budget, never less than DefaultCycleTimeout
func CycleTimeout(pollBudget time.Duration, orders int) time.Duration {
	timeout := pollBudget*time.Duration(orders) + cycleOverhead
	if timeout < DefaultCycleTimeout {
		return DefaultCycleTimeout
	}
	return timeout
}

// CycleRunner runs one rebalance cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (*rebalancing.CycleReport, error)
}

// RebalanceJob runs a rebalance cycle on schedule
type RebalanceJob struct {
	runner  CycleRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewRebalanceJob creates a new RebalanceJob
func NewRebalanceJob(runner CycleRunner, timeout time.Duration, log zerolog.Logger) *RebalanceJob {
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}
	return &RebalanceJob{
		runner:  runner,
		timeout: timeout,
		log:     log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run executes one cycle. A cycle already holding the lock is not an error.
func (j *RebalanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.runner.RunCycle(ctx)
	if errors.Is(err, domain.ErrCycleInProgress) {
		j.log.Warn().Msg("Previous cycle still holds the lock, skipping")
		return nil
	}
	if report != nil {
		j.log.Info().
			Str("cycle_id", report.CycleID).
			Str("final_cash", report.FinalCash.String()).
			Msg("Scheduled cycle finished")
	}
	return err
}
