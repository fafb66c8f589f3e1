// Package trading submits planned orders and tracks them to completion.
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/planning"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Skip reasons written to the ledger note
const (
	ReasonSubmitFailed      = "submission failed"
	ReasonInsufficientCash  = "insufficient cash"
	ReasonBelowMinimumAfter = "below minimum order value after cap"
	ReasonZeroVolume        = "volume rounds to zero"
)

// finalStatusTimeout bounds the status query made after polling was interrupted
const finalStatusTimeout = 10 * time.Second

// SequencerConfig holds execution parameters
type SequencerConfig struct {
	FeeRate         decimal.Decimal
	MinOrderValue   decimal.Decimal
	LotIncrements   map[domain.Asset]decimal.Decimal
	VolumePrecision int32 // decimal places the exchange accepts for volume
	Location        *time.Location
}

// Execution is the outcome of one intent
type Execution struct {
	Intent  domain.OrderIntent
	Request *domain.OrderRequest
	Order   *domain.Order
	Capped  bool
	Skipped bool
	Err     error
}

// ExecutionReport summarises a sequencer run
type ExecutionReport struct {
	Executions []Execution
	Records    []domain.LedgerRecord
	TimedOut   []*domain.Order
	Submitted  int
	Skipped    int
}

// Sequencer executes a plan: all sells, a barrier, then serialized buys.
//
// Sells go first so their proceeds fund the buys. Each buy is capped to the
// cash available at that moment and reconciled before the next one is sized.
type Sequencer struct {
	gateway    domain.OrderGateway
	poller     *Poller
	reconciler *portfolio.Reconciler
	cfg        SequencerConfig
	recorder   Recorder
	now        func() time.Time
	log        zerolog.Logger
}

// NewSequencer creates a new execution sequencer
func NewSequencer(
	gateway domain.OrderGateway,
	poller *Poller,
	reconciler *portfolio.Reconciler,
	cfg SequencerConfig,
	log zerolog.Logger,
) *Sequencer {
	if cfg.LotIncrements == nil {
		cfg.LotIncrements = make(map[domain.Asset]decimal.Decimal)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Sequencer{
		gateway:    gateway,
		poller:     poller,
		reconciler: reconciler,
		cfg:        cfg,
		recorder:   noopRecorder{},
		now:        time.Now,
		log:        log.With().Str("component", "execution_sequencer").Logger(),
	}
}

// SetRecorder sets the metrics recorder
func (s *Sequencer) SetRecorder(r Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// run carries per-execution context
type run struct {
	cycleID string
	snap    portfolio.Snapshot
	weights domain.WeightVector
	prev    map[domain.Asset]float64
	state   *domain.PortfolioState
	report  *ExecutionReport
}

// Execute runs the plan against state, mutating state only through the
// reconciler. Timed-out orders are listed in the report and do not stop the
// cycle. A non-nil error is returned only when ctx is cancelled; the report
// then covers everything executed so far, and every submitted order whose
// polling was cut short is either reconciled or reported as timed out.
func (s *Sequencer) Execute(
	ctx context.Context,
	cycleID string,
	plan planning.Plan,
	snap portfolio.Snapshot,
	state *domain.PortfolioState,
) (*ExecutionReport, error) {
	r := &run{
		cycleID: cycleID,
		snap:    snap,
		weights: plan.Weights,
		prev:    make(map[domain.Asset]float64, len(state.LastWeights)),
		state:   state,
		report:  &ExecutionReport{},
	}
	for a, w := range state.LastWeights {
		r.prev[a] = w
	}

	if err := s.sellPhase(ctx, r, plan.Sells()); err != nil {
		return r.report, err
	}
	if err := s.buyPhase(ctx, r, plan.Buys()); err != nil {
		return r.report, err
	}

	return r.report, nil
}

type pendingSell struct {
	intent  domain.OrderIntent
	request domain.OrderRequest
	orderID string
}

func (s *Sequencer) sellPhase(ctx context.Context, r *run, intents []domain.OrderIntent) error {
	pending := make([]pendingSell, 0, len(intents))

	for _, intent := range intents {
		volume := intent.AbsQuantity().Truncate(s.cfg.VolumePrecision)
		if !volume.IsPositive() {
			s.skip(r, intent, nil, ReasonZeroVolume, nil)
			continue
		}

		req := domain.OrderRequest{
			Asset:  intent.Asset,
			Side:   domain.SideSell,
			Type:   domain.OrderTypeMarketSell,
			Volume: volume,
		}
		orderID, err := s.gateway.SubmitOrder(ctx, req)
		if err != nil {
			s.skip(r, intent, &req, ReasonSubmitFailed, fmt.Errorf("%w: %v", domain.ErrOrderSubmissionFailed, err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		r.report.Submitted++
		s.log.Info().
			Str("asset", intent.Asset.String()).
			Str("order_id", orderID).
			Str("volume", volume.String()).
			Str("price", intent.TickPrice.String()).
			Msg("SELL submitted")
		pending = append(pending, pendingSell{intent: intent, request: req, orderID: orderID})
	}

	// Barrier: every sell is terminal before any fill is applied or any buy sized
	finished := make([]*domain.Order, len(pending))
	var waitErr error
	for i, p := range pending {
		order, err := s.poller.Wait(ctx, p.orderID)
		if err != nil && !errors.Is(err, domain.ErrOrderTimedOut) {
			waitErr = err
			break
		}
		finished[i] = order
	}

	for i, p := range pending {
		if finished[i] == nil {
			s.interrupted(ctx, r, p.intent, p.request, p.orderID, waitErr, false)
			continue
		}
		s.complete(r, p.intent, p.request, finished[i], false)
	}

	return waitErr
}

func (s *Sequencer) buyPhase(ctx context.Context, r *run, intents []domain.OrderIntent) error {
	for _, intent := range intents {
		qty, capped := s.capToCash(intent, r.state.Cash)
		if capped {
			s.recorder.OrderCapped(intent.Asset)
			s.log.Info().
				Str("asset", intent.Asset.String()).
				Str("planned", intent.AbsQuantity().String()).
				Str("capped", qty.String()).
				Str("cash", r.state.Cash.String()).
				Msg("BUY capped to available cash")
		}

		if !qty.IsPositive() {
			s.skip(r, intent, nil, ReasonInsufficientCash, nil)
			continue
		}

		notional := intent.TickPrice.Mul(qty)
		if capped && notional.LessThan(s.cfg.MinOrderValue) {
			s.skip(r, intent, nil, ReasonBelowMinimumAfter, nil)
			continue
		}

		req := domain.OrderRequest{
			Asset:    intent.Asset,
			Side:     domain.SideBuy,
			Type:     domain.OrderTypeMarketBuy,
			Volume:   qty,
			Notional: notional,
		}
		orderID, err := s.gateway.SubmitOrder(ctx, req)
		if err != nil {
			s.skip(r, intent, &req, ReasonSubmitFailed, fmt.Errorf("%w: %v", domain.ErrOrderSubmissionFailed, err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		r.report.Submitted++
		s.log.Info().
			Str("asset", intent.Asset.String()).
			Str("order_id", orderID).
			Str("notional", notional.String()).
			Str("price", intent.TickPrice.String()).
			Msg("BUY submitted")

		order, err := s.poller.Wait(ctx, orderID)
		if err != nil && !errors.Is(err, domain.ErrOrderTimedOut) {
			s.interrupted(ctx, r, intent, req, orderID, err, capped)
			return err
		}
		s.complete(r, intent, req, order, capped)
	}
	return nil
}

// capToCash returns the buy quantity after applying
// floor((cash/(1+fee)) / price / lot) × lot.
func (s *Sequencer) capToCash(intent domain.OrderIntent, cash decimal.Decimal) (decimal.Decimal, bool) {
	lot := s.cfg.LotIncrements[intent.Asset]
	planned := s.quantize(intent.AbsQuantity(), lot)

	if !intent.TickPrice.IsPositive() || !cash.IsPositive() {
		return decimal.Zero, planned.IsPositive()
	}

	budget := cash.Div(decimal.NewFromInt(1).Add(s.cfg.FeeRate))
	maxQty := s.quantize(budget.Div(intent.TickPrice), lot)

	if planned.GreaterThan(maxQty) {
		return maxQty, true
	}
	return planned, false
}

func (s *Sequencer) quantize(q, lot decimal.Decimal) decimal.Decimal {
	if lot.IsPositive() {
		return planning.QuantizeLot(q, lot)
	}
	return q.Truncate(s.cfg.VolumePrecision)
}

// complete reconciles a finished order and writes its ledger record
func (s *Sequencer) complete(r *run, intent domain.OrderIntent, req domain.OrderRequest, order *domain.Order, capped bool) {
	if order.Asset == "" {
		order.Asset = intent.Asset
	}
	if order.Side == "" {
		order.Side = intent.Side
	}

	if order.Status == domain.OrderStatusTimedOut {
		s.timedOut(r, intent, req, order, capped,
			fmt.Sprintf("order %s not terminal after polling; manual review required", order.ID))
		return
	}

	exec := Execution{Intent: intent, Request: &req, Order: order, Capped: capped}
	s.recorder.OrderFinished(intent.Side, order.Status)

	if err := s.reconciler.Apply(r.state, order); err != nil {
		exec.Err = err
		s.log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to reconcile order")
	}
	r.report.Executions = append(r.report.Executions, exec)

	action := domain.ActionBuy
	if intent.Side == domain.SideSell {
		action = domain.ActionSell
	}

	note := s.weightNote(r, intent.Asset)
	if capped {
		note += "; capped"
	}
	if order.Status == domain.OrderStatusCancelled {
		note += "; cancelled"
	}

	r.report.Records = append(r.report.Records, s.record(r, intent.Asset, action,
		order.ExecutedPrice, order.ExecutedQuantity, order.FeePaid, note))

	s.log.Info().
		Str("asset", intent.Asset.String()).
		Str("action", string(action)).
		Str("quantity", order.ExecutedQuantity.String()).
		Str("price", order.ExecutedPrice.String()).
		Str("fee", order.FeePaid.String()).
		Str("status", string(order.Status)).
		Str("cash", r.state.Cash.String()).
		Msg("Order filled")
}

// timedOut reports an order that never reached a terminal status. State is
// left unchanged for it; the ledger row flags it for manual review.
func (s *Sequencer) timedOut(r *run, intent domain.OrderIntent, req domain.OrderRequest, order *domain.Order, capped bool, note string) {
	s.recorder.OrderFinished(intent.Side, domain.OrderStatusTimedOut)
	r.report.TimedOut = append(r.report.TimedOut, order)
	r.report.Executions = append(r.report.Executions, Execution{
		Intent:  intent,
		Request: &req,
		Order:   order,
		Capped:  capped,
		Err:     fmt.Errorf("order %s: %w", order.ID, domain.ErrOrderTimedOut),
	})
	r.report.Records = append(r.report.Records, s.record(r, intent.Asset, domain.ActionTimeout,
		intent.TickPrice, intent.AbsQuantity(), decimal.Zero, note))

	s.log.Error().
		Str("asset", intent.Asset.String()).
		Str("order_id", order.ID).
		Msg("Order timed out, state left unchanged for this order")
}

// interrupted settles a submitted order whose polling was cut short by ctx.
// One last status query runs on a detached context: a terminal order is
// reconciled as usual, anything else is reported as timed out.
func (s *Sequencer) interrupted(ctx context.Context, r *run, intent domain.OrderIntent, req domain.OrderRequest, orderID string, cause error, capped bool) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalStatusTimeout)
	defer cancel()

	order, err := s.gateway.GetOrderStatus(qctx, orderID)
	if err == nil && order != nil &&
		(order.Status == domain.OrderStatusDone || order.Status == domain.OrderStatusCancelled) {
		s.complete(r, intent, req, order, capped)
		return
	}

	last := &domain.Order{ID: orderID, Asset: intent.Asset, Side: intent.Side}
	if err == nil && order != nil {
		copied := *order
		last = &copied
	}
	if last.Asset == "" {
		last.Asset = intent.Asset
	}
	if last.Side == "" {
		last.Side = intent.Side
	}
	last.Status = domain.OrderStatusTimedOut

	s.timedOut(r, intent, req, last, capped,
		fmt.Sprintf("order %s: polling interrupted (%v); manual review required", orderID, cause))
}

func (s *Sequencer) skip(r *run, intent domain.OrderIntent, req *domain.OrderRequest, reason string, err error) {
	r.report.Skipped++
	r.report.Executions = append(r.report.Executions, Execution{
		Intent:  intent,
		Request: req,
		Skipped: true,
		Err:     err,
	})
	r.report.Records = append(r.report.Records, s.record(r, intent.Asset, domain.ActionSkip,
		intent.TickPrice, intent.AbsQuantity(), decimal.Zero, string(intent.Side)+" "+reason))
	s.recorder.OrderSkipped(intent.Side, reason)

	ev := s.log.Warn()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("asset", intent.Asset.String()).
		Str("side", string(intent.Side)).
		Str("quantity", intent.AbsQuantity().String()).
		Str("reason", reason).
		Msg("Order skipped")
}

func (s *Sequencer) record(r *run, asset domain.Asset, action domain.Action, price, qty, fee decimal.Decimal, note string) domain.LedgerRecord {
	return domain.LedgerRecord{
		Timestamp:      s.now().In(s.cfg.Location),
		CycleID:        r.cycleID,
		Asset:          asset,
		Action:         action,
		Price:          price,
		Quantity:       qty,
		Fee:            fee,
		Cash:           r.state.Cash,
		PortfolioValue: r.snap.ValueOf(r.state),
		Note:           note,
	}
}

func (s *Sequencer) weightNote(r *run, asset domain.Asset) string {
	return WeightNote(r.prev[asset], r.weights.Get(asset))
}

// WeightNote formats the weight change for ledger notes
func WeightNote(prev, next float64) string {
	return fmt.Sprintf("weight %.4f -> %.4f", prev, next)
}
