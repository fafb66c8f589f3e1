// Package rebalancing runs one rebalance cycle end to end.
package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/allocation"
	"github.com/aristath/volbalance/internal/modules/planning"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/aristath/volbalance/internal/modules/trading"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Cycle outcomes reported to metrics
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeBusy  = "busy"
)

// Locker guards against overlapping cycles
type Locker interface {
	Acquire(ctx context.Context) (func() error, error)
}

// MetricsRecorder receives cycle-level metrics
type MetricsRecorder interface {
	CycleFinished(outcome string, d time.Duration)
	PortfolioUpdated(value, cash float64, weights domain.WeightVector)
}

// Backuper uploads a copy of the persisted state after a cycle
type Backuper interface {
	CreateAndUploadBackup(ctx context.Context) (string, error)
}

// Config holds cycle parameters
type Config struct {
	Assets       []domain.Asset
	SyncBalances bool
	Location     *time.Location
}

// Preview is a planned cycle that was not executed
type Preview struct {
	State    *domain.PortfolioState
	Snapshot portfolio.Snapshot
	Plan     planning.Plan
}

// CycleReport summarises one executed cycle
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Weights    domain.WeightVector
	StartValue decimal.Decimal
	StartCash  decimal.Decimal
	FinalValue decimal.Decimal
	FinalCash  decimal.Decimal
	Plan       planning.Plan
	Execution  *trading.ExecutionReport
	Records    []domain.LedgerRecord
	BackupKey  string
}

// CycleStatus describes the cycle in flight and the last one this process finished
type CycleStatus struct {
	Running    bool
	CycleID    string
	FinishedAt time.Time
	Outcome    string
	Error      string
}

// Service orchestrates rebalance cycles
type Service struct {
	cfg        Config
	exchange   domain.ExchangeClient
	store      domain.StateStore
	ledger     domain.LedgerSink
	calculator *allocation.Calculator
	planner    *planning.Planner
	sequencer  *trading.Sequencer
	locker     Locker
	metrics    MetricsRecorder
	backup     Backuper
	now        func() time.Time
	newID      func() string
	log        zerolog.Logger

	mu     sync.Mutex
	status CycleStatus
}

// NewService creates a new rebalancing service
func NewService(
	cfg Config,
	exchange domain.ExchangeClient,
	store domain.StateStore,
	ledger domain.LedgerSink,
	calculator *allocation.Calculator,
	planner *planning.Planner,
	sequencer *trading.Sequencer,
	locker Locker,
	log zerolog.Logger,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		cfg:        cfg,
		exchange:   exchange,
		store:      store,
		ledger:     ledger,
		calculator: calculator,
		planner:    planner,
		sequencer:  sequencer,
		locker:     locker,
		metrics:    noopMetrics{},
		now:        time.Now,
		newID:      uuid.NewString,
		log:        log.With().Str("service", "rebalancing").Logger(),
	}
}

// SetMetrics sets the metrics recorder
func (s *Service) SetMetrics(m MetricsRecorder) {
	if m != nil {
		s.metrics = m
	}
}

// SetBackup enables a backup upload after every persisted cycle
func (s *Service) SetBackup(b Backuper) {
	s.backup = b
}

// RunCycle executes one full cycle under the instance lock.
//
// Once any order has been submitted the state and ledger are always
// persisted, even if ctx is cancelled. Timed-out orders do not stop the
// cycle; the returned error then wraps domain.ErrOrderTimedOut.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := s.now()

	release, err := s.locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCycleInProgress) {
			s.log.Warn().Err(err).Msg("Skipping cycle, another one is running")
			s.metrics.CycleFinished(OutcomeBusy, s.now().Sub(start))
		}
		return nil, err
	}
	defer func() {
		if err := release(); err != nil {
			s.log.Error().Err(err).Msg("Failed to release cycle lock")
		}
	}()

	s.setRunning(true)
	report, err := s.run(ctx, start)

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	s.metrics.CycleFinished(outcome, s.now().Sub(start))
	s.finish(report, outcome, err)

	return report, err
}

// Status returns the current cycle status
func (s *Service) Status() CycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = running
}

func (s *Service) finish(report *CycleReport, outcome string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = CycleStatus{FinishedAt: s.now().In(s.cfg.Location), Outcome: outcome}
	if report != nil {
		s.status.CycleID = report.CycleID
	}
	if err != nil {
		s.status.Error = err.Error()
	}
}

// Preview computes weights and the order plan without submitting anything
func (s *Service) Preview(ctx context.Context) (*Preview, error) {
	return s.prepare(ctx)
}

func (s *Service) prepare(ctx context.Context) (*Preview, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if s.cfg.SyncBalances {
		remote, err := portfolio.FetchRemoteBalances(ctx, s.exchange)
		if err != nil {
			return nil, err
		}
		state = portfolio.MergeBalances(state, remote, s.cfg.Assets)
		s.log.Info().
			Str("cash", state.Cash.String()).
			Msg("Balances synced from exchange")
	}

	closes, err := s.calculator.FetchCloses(ctx, s.exchange, s.cfg.Assets)
	if err != nil {
		return nil, err
	}
	weights := s.calculator.Calculate(s.cfg.Assets, closes)

	quotes := make(map[domain.Asset]decimal.Decimal, len(s.cfg.Assets))
	for _, asset := range s.cfg.Assets {
		price, err := s.exchange.GetCurrentPrice(ctx, asset)
		if err != nil {
			if errors.Is(err, domain.ErrMissingQuote) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrMissingQuote, asset, err)
		}
		quotes[asset] = price
	}

	prices, err := s.planner.AdjustPrices(quotes)
	if err != nil {
		return nil, err
	}
	snap, err := portfolio.BuildSnapshot(state, s.cfg.Assets, prices)
	if err != nil {
		return nil, err
	}

	return &Preview{
		State:    state,
		Snapshot: snap,
		Plan:     s.planner.Plan(snap, weights),
	}, nil
}

func (s *Service) run(ctx context.Context, start time.Time) (*CycleReport, error) {
	cycleID := s.newID()
	log := s.log.With().Str("cycle_id", cycleID).Logger()

	p, err := s.prepare(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Cycle aborted before any order was placed")
		return nil, err
	}
	state, snap, plan := p.State, p.Snapshot, p.Plan

	report := &CycleReport{
		CycleID:    cycleID,
		StartedAt:  start.In(s.cfg.Location),
		Weights:    plan.Weights,
		StartValue: snap.Value,
		StartCash:  snap.Cash,
		Plan:       plan,
	}

	log.Info().
		Str("portfolio_value", snap.Value.String()).
		Str("cash", snap.Cash.String()).
		Int("orders", len(plan.Intents)).
		Msg("Starting rebalance")

	records := s.holdRecords(cycleID, state, snap, plan)

	exec, execErr := s.sequencer.Execute(ctx, cycleID, plan, snap, state)
	report.Execution = exec
	records = append(records, exec.Records...)
	report.Records = records

	state.LastWeights = make(map[domain.Asset]float64, len(plan.Weights.Assets))
	for _, a := range plan.Weights.Assets {
		state.LastWeights[a] = plan.Weights.Get(a)
	}
	state.UpdatedAt = s.now()

	// Orders may have filled: persist regardless of cancellation
	pctx := context.WithoutCancel(ctx)

	var errs []error
	if execErr != nil {
		errs = append(errs, execErr)
	}

	persisted := true
	if err := s.ledger.Append(pctx, records); err != nil {
		persisted = false
		errs = append(errs, persistenceError("append ledger", err))
	}
	if err := s.store.Save(pctx, state); err != nil {
		persisted = false
		errs = append(errs, persistenceError("save state", err))
	}

	report.FinalCash = state.Cash
	report.FinalValue = snap.ValueOf(state)
	s.metrics.PortfolioUpdated(report.FinalValue.InexactFloat64(), report.FinalCash.InexactFloat64(), plan.Weights)

	if s.backup != nil && persisted {
		key, err := s.backup.CreateAndUploadBackup(pctx)
		if err != nil {
			log.Warn().Err(err).Msg("Post-cycle backup failed")
		} else {
			report.BackupKey = key
		}
	}

	if len(exec.TimedOut) > 0 {
		errs = append(errs, fmt.Errorf("%w: %d order(s) need manual review", domain.ErrOrderTimedOut, len(exec.TimedOut)))
	}

	report.FinishedAt = s.now().In(s.cfg.Location)

	log.Info().
		Str("cash", report.FinalCash.String()).
		Str("portfolio_value", report.FinalValue.String()).
		Int("submitted", exec.Submitted).
		Int("skipped", exec.Skipped).
		Int("timed_out", len(exec.TimedOut)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Rebalance complete")

	return report, errors.Join(errs...)
}

// holdRecords logs and records every asset left alone this cycle
func (s *Service) holdRecords(cycleID string, state *domain.PortfolioState, snap portfolio.Snapshot, plan planning.Plan) []domain.LedgerRecord {
	records := make([]domain.LedgerRecord, 0, len(plan.Holds))
	for _, h := range plan.Holds {
		note := trading.WeightNote(state.LastWeights[h.Asset], h.Weight) + "; " + h.Reason
		records = append(records, domain.LedgerRecord{
			Timestamp:      s.now().In(s.cfg.Location),
			CycleID:        cycleID,
			Asset:          h.Asset,
			Action:         domain.ActionHold,
			Price:          h.TickPrice,
			Quantity:       decimal.Zero,
			Fee:            decimal.Zero,
			Cash:           state.Cash,
			PortfolioValue: snap.Value,
			Note:           note,
		})

		s.log.Info().
			Str("asset", h.Asset.String()).
			Str("delta_krw", h.DeltaKRW.StringFixed(0)).
			Float64("weight", h.Weight).
			Str("reason", h.Reason).
			Msg("Holding")
	}
	return records
}

func persistenceError(op string, err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

type noopMetrics struct{}

func (noopMetrics) CycleFinished(string, time.Duration)                    {}
func (noopMetrics) PortfolioUpdated(float64, float64, domain.WeightVector) {}
