package di

import (
	"fmt"

	"github.com/aristath/volbalance/internal/config"
	"github.com/aristath/volbalance/internal/reliability"
	"github.com/aristath/volbalance/internal/scheduler"
	"github.com/rs/zerolog"
)

// JobInstances holds the scheduled jobs for manual triggering
type JobInstances struct {
	Rebalance   *scheduler.RebalanceJob
	Maintenance *reliability.MaintenanceJob
}

// RegisterJobs creates the daemon scheduler and registers the rebalance and
// maintenance jobs on their configured specs
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*scheduler.Scheduler, *JobInstances, error) {
	if container.Rebalancer == nil {
		return nil, nil, fmt.Errorf("services must be initialized before jobs")
	}

	jobs := &JobInstances{
		Rebalance: scheduler.NewRebalanceJob(container.Rebalancer, container.CycleTimeout, log),
		Maintenance: reliability.NewMaintenanceJob(
			container.Databases(),
			container.BackupSvc,
			cfg.Backup.RetentionDays,
			cfg.DataDir,
			log,
		),
	}

	sched := scheduler.New(cfg.Location(), log)
	if err := sched.AddJob(cfg.Scheduler.Spec, jobs.Rebalance); err != nil {
		return nil, nil, fmt.Errorf("failed to register rebalance job: %w", err)
	}
	if err := sched.AddJob(cfg.Scheduler.MaintenanceSpec, jobs.Maintenance); err != nil {
		return nil, nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	log.Info().
		Str("rebalance", cfg.Scheduler.Spec).
		Str("maintenance", cfg.Scheduler.MaintenanceSpec).
		Msg("Jobs registered")

	return sched, jobs, nil
}
