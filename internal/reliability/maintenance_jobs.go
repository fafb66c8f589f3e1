package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/volbalance/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Free-space thresholds for the data directory
const (
	criticalFreeBytes = 200 * 1024 * 1024
	warnFreeBytes     = 1024 * 1024 * 1024
)

// MaintenanceJob runs daily database upkeep: integrity check, WAL
// checkpoint, a free-space check and backup rotation.
type MaintenanceJob struct {
	databases     map[string]*database.DB
	backup        *BackupService // optional
	retentionDays int
	dataDir       string
	diskUsage     func(path string) (*disk.UsageStat, error)
	timeout       time.Duration
	log           zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job. backup may be nil.
func NewMaintenanceJob(
	databases map[string]*database.DB,
	backup *BackupService,
	retentionDays int,
	dataDir string,
	log zerolog.Logger,
) *MaintenanceJob {
	return &MaintenanceJob{
		databases:     databases,
		backup:        backup,
		retentionDays: retentionDays,
		dataDir:       dataDir,
		diskUsage:     disk.Usage,
		timeout:       5 * time.Minute,
		log:           log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance steps
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("CRITICAL: Database failed integrity check")
			return fmt.Errorf("database %s failed integrity check: %w", name, err)
		}
		if err := db.Checkpoint(ctx); err != nil {
			// not critical, retried next run
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if j.backup != nil {
		if _, err := j.backup.RotateOldBackups(ctx, j.retentionDays); err != nil {
			j.log.Error().Err(err).Msg("Backup rotation failed")
		}
	}

	j.log.Info().Dur("duration", time.Since(startTime)).Msg("Maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeMB := float64(usage.Free) / 1024 / 1024
	j.log.Debug().Float64("free_mb", freeMB).Float64("used_percent", usage.UsedPercent).Msg("Disk space check")

	if usage.Free < criticalFreeBytes {
		j.log.Error().Float64("free_mb", freeMB).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.0f MB free in %s", freeMB, j.dataDir)
	}
	if usage.Free < warnFreeBytes {
		j.log.Warn().Float64("free_mb", freeMB).Msg("Disk space running low")
	}
	return nil
}
