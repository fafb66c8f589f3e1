// Package di provides dependency injection wiring and initialization.
package di

import (
	"time"

	"github.com/aristath/volbalance/internal/database"
	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/lock"
	"github.com/aristath/volbalance/internal/metrics"
	"github.com/aristath/volbalance/internal/modules/allocation"
	"github.com/aristath/volbalance/internal/modules/ledger"
	"github.com/aristath/volbalance/internal/modules/planning"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/aristath/volbalance/internal/modules/rebalancing"
	"github.com/aristath/volbalance/internal/modules/trading"
	"github.com/aristath/volbalance/internal/reliability"
)

// Container holds all dependencies for the application.
// It is created by Wire and owns the database connections.
type Container struct {
	// Databases
	StateDB  *database.DB // portfolio state (cash, holdings, last weights)
	LedgerDB *database.DB // append-only trade and hold records

	// Exchange
	Exchange domain.ExchangeClient // live Upbit client or paper simulator
	Assets   []domain.Asset        // configured basket, in config order

	// Repositories and sinks
	StateRepo  *portfolio.StateRepository
	LedgerRepo *ledger.Repository
	CSVSink    *ledger.CSVSink
	LedgerSink *ledger.MultiSink

	// Services
	Calculator  *allocation.Calculator
	Planner     *planning.Planner
	Reconciler  *portfolio.Reconciler
	Poller      *trading.Poller
	Sequencer   *trading.Sequencer
	Locker      *lock.Locker
	Metrics     *metrics.Recorder
	Rebalancer  *rebalancing.Service
	BackupStore reliability.ObjectStore    // nil when backups are disabled
	BackupSvc   *reliability.BackupService // nil when backups are disabled

	// CycleTimeout bounds one cycle, scheduled or triggered over HTTP
	CycleTimeout time.Duration
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 2)
	if c.StateDB != nil {
		dbs[c.StateDB.Name()] = c.StateDB
	}
	if c.LedgerDB != nil {
		dbs[c.LedgerDB.Name()] = c.LedgerDB
	}
	return dbs
}

// Close closes every database the container opened
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.StateDB, c.LedgerDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
