package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
)

// PollConfig bounds the fill poller
type PollConfig struct {
	Interval      time.Duration // delay before the first status query
	MaxInterval   time.Duration // backoff ceiling
	BackoffFactor float64
	MaxAttempts   int
}

// DefaultPollConfig returns the production polling policy
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:      time.Second,
		MaxInterval:   30 * time.Second,
		BackoffFactor: 2,
		MaxAttempts:   60,
	}
}

// Budget returns the longest time Wait can spend sleeping on one order
func (c PollConfig) Budget() time.Duration {
	var total time.Duration
	delay := c.Interval
	for i := 0; i < c.MaxAttempts; i++ {
		total += delay
		next := time.Duration(float64(delay) * c.BackoffFactor)
		if next > c.MaxInterval {
			next = c.MaxInterval
		}
		delay = next
	}
	return total
}

// Poller waits for submitted orders to reach a terminal status.
//
// Each order gets at most MaxAttempts status queries, spaced by an
// exponentially growing delay. When attempts run out the order is reported
// TIMED_OUT; the exchange-side order is left alone and needs manual review.
type Poller struct {
	gateway  domain.OrderGateway
	cfg      PollConfig
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// NewPoller creates a new fill poller
func NewPoller(gateway domain.OrderGateway, cfg PollConfig, log zerolog.Logger) *Poller {
	def := DefaultPollConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	return &Poller{
		gateway:  gateway,
		cfg:      cfg,
		recorder: noopRecorder{},
		sleep:    sleepContext,
		log:      log.With().Str("component", "fill_poller").Logger(),
	}
}

// SetRecorder sets the metrics recorder
func (p *Poller) SetRecorder(r Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// Config returns the effective policy after defaults were applied
func (p *Poller) Config() PollConfig {
	return p.cfg
}

// Wait blocks until the order is DONE or CANCELLED.
//
// On exhaustion it returns the last observed order with status TIMED_OUT
// together with domain.ErrOrderTimedOut. Status query errors count as
// attempts. Context cancellation returns the context error.
func (p *Poller) Wait(ctx context.Context, orderID string) (*domain.Order, error) {
	delay := p.cfg.Interval
	last := &domain.Order{ID: orderID, Status: domain.OrderStatusSubmitted}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.sleep(ctx, delay); err != nil {
			return last, err
		}

		order, err := p.gateway.GetOrderStatus(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			p.log.Warn().
				Err(err).
				Str("order_id", orderID).
				Int("attempt", attempt).
				Msg("Order status query failed")
		} else {
			last = order
			if order.Status == domain.OrderStatusDone || order.Status == domain.OrderStatusCancelled {
				p.recorder.PollAttempts(attempt)
				p.log.Debug().
					Str("order_id", orderID).
					Str("status", string(order.Status)).
					Int("attempts", attempt).
					Msg("Order reached terminal state")
				return order, nil
			}
		}

		delay = p.next(delay)
	}

	p.recorder.PollAttempts(p.cfg.MaxAttempts)
	p.log.Error().
		Str("order_id", orderID).
		Int("attempts", p.cfg.MaxAttempts).
		Str("last_status", string(last.Status)).
		Msg("Order did not reach a terminal state, manual review required")

	timedOut := *last
	timedOut.Status = domain.OrderStatusTimedOut
	return &timedOut, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderTimedOut)
}

func (p *Poller) next(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * p.cfg.BackoffFactor)
	if next > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
