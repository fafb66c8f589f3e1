package di

import (
	"context"
	"fmt"

	"github.com/aristath/volbalance/internal/clients/paper"
	"github.com/aristath/volbalance/internal/clients/upbit"
	"github.com/aristath/volbalance/internal/config"
	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/lock"
	"github.com/aristath/volbalance/internal/metrics"
	"github.com/aristath/volbalance/internal/modules/allocation"
	"github.com/aristath/volbalance/internal/modules/planning"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/aristath/volbalance/internal/modules/rebalancing"
	"github.com/aristath/volbalance/internal/modules/trading"
	"github.com/aristath/volbalance/internal/reliability"
	"github.com/aristath/volbalance/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// InitializeServices creates the exchange client and the cycle services.
// An Exchange or BackupStore already set on the container is kept, which
// lets callers substitute their own.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.StateRepo == nil || container.LedgerSink == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	if container.Exchange == nil {
		exchange, err := newExchange(ctx, container, cfg, log)
		if err != nil {
			return err
		}
		container.Exchange = exchange
	}

	container.Assets = assets(cfg.Rebalance.Assets)
	feeRate := decimal.NewFromFloat(cfg.Rebalance.FeeRate)
	minOrder := decimal.NewFromFloat(cfg.Rebalance.MinOrderValue)
	lots := lotIncrements(cfg.Rebalance.LotIncrements)
	loc := cfg.Location()

	container.Calculator = allocation.NewCalculator(cfg.Rebalance.VolatilityWindow, log)
	container.Planner = planning.NewPlanner(planning.Config{
		MinOrderValue: minOrder,
		FeeRate:       feeRate,
		LotIncrements: lots,
		TickTable:     tickTable(cfg.Rebalance.TickTable),
	}, log)
	container.Reconciler = portfolio.NewReconciler(log)
	container.Poller = trading.NewPoller(container.Exchange, trading.PollConfig{
		Interval:      cfg.Rebalance.Poll.Interval,
		MaxInterval:   cfg.Rebalance.Poll.MaxInterval,
		BackoffFactor: cfg.Rebalance.Poll.BackoffFactor,
		MaxAttempts:   cfg.Rebalance.Poll.MaxAttempts,
	}, log)
	container.CycleTimeout = scheduler.CycleTimeout(container.Poller.Config().Budget(), len(container.Assets))
	container.Sequencer = trading.NewSequencer(
		container.Exchange,
		container.Poller,
		container.Reconciler,
		trading.SequencerConfig{
			FeeRate:         feeRate,
			MinOrderValue:   minOrder,
			LotIncrements:   lots,
			VolumePrecision: cfg.Rebalance.VolumePrecision,
			Location:        loc,
		},
		log,
	)
	container.Locker = lock.New(cfg.LockPath(), log)

	container.Metrics = metrics.New()
	container.Poller.SetRecorder(container.Metrics)
	container.Sequencer.SetRecorder(container.Metrics)

	container.Rebalancer = rebalancing.NewService(
		rebalancing.Config{
			Assets:       container.Assets,
			SyncBalances: cfg.Rebalance.SyncBalances,
			Location:     loc,
		},
		container.Exchange,
		container.StateRepo,
		container.LedgerSink,
		container.Calculator,
		container.Planner,
		container.Sequencer,
		container.Locker,
		log,
	)
	container.Rebalancer.SetMetrics(container.Metrics)

	if err := initializeBackup(ctx, container, cfg, log); err != nil {
		return err
	}

	log.Info().
		Str("mode", cfg.Exchange.Mode).
		Strs("assets", cfg.Rebalance.Assets).
		Bool("backup", container.BackupSvc != nil).
		Dur("cycle_timeout", container.CycleTimeout).
		Msg("Services initialized")
	return nil
}

// newExchange builds the live Upbit client, or a paper exchange that reads
// Upbit market data and fills against the persisted state
func newExchange(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) (domain.ExchangeClient, error) {
	client := upbit.NewClient(upbit.Config{
		BaseURL:    cfg.Exchange.BaseURL,
		AccessKey:  cfg.Exchange.AccessKey,
		SecretKey:  cfg.Exchange.SecretKey,
		Timeout:    cfg.Exchange.RequestTimeout,
		MaxRetries: cfg.Exchange.MaxRetries,
	}, log)

	if cfg.Exchange.Mode == "live" {
		if cfg.Exchange.AccessKey == "" || cfg.Exchange.SecretKey == "" {
			return nil, fmt.Errorf("live mode requires exchange access_key and secret_key")
		}
		return client, nil
	}

	state, err := container.StateRepo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for paper exchange: %w", err)
	}
	initial := &domain.Balances{
		Cash:     state.Cash,
		Holdings: make(map[domain.Asset]decimal.Decimal, len(state.Holdings)),
	}
	for asset, qty := range state.Holdings {
		initial.Holdings[asset] = qty
	}
	return paper.NewExchange(client, decimal.NewFromFloat(cfg.Rebalance.FeeRate), initial, log), nil
}

func initializeBackup(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.Backup.Enabled {
		return nil
	}
	if container.BackupStore == nil {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupStore = store
	}
	container.BackupSvc = reliability.NewBackupService(
		container.BackupStore,
		container.Databases(),
		[]string{cfg.LedgerCSVPath()},
		cfg.DataDir,
		cfg.Backup.Prefix,
		log,
	)
	container.Rebalancer.SetBackup(container.BackupSvc)
	return nil
}

func assets(symbols []string) []domain.Asset {
	out := make([]domain.Asset, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, domain.Asset(s))
	}
	return out
}

func lotIncrements(in map[string]float64) map[domain.Asset]decimal.Decimal {
	out := make(map[domain.Asset]decimal.Decimal, len(in))
	for symbol, lot := range in {
		out[domain.Asset(symbol)] = decimal.NewFromFloat(lot)
	}
	return out
}

func tickTable(steps []config.TickStep) planning.TickTable {
	converted := make([]planning.TickStep, 0, len(steps))
	for _, s := range steps {
		converted = append(converted, planning.TickStep{
			MinPrice: decimal.NewFromFloat(s.MinPrice),
			Tick:     decimal.NewFromFloat(s.Tick),
		})
	}
	return planning.NewTickTable(converted)
}
