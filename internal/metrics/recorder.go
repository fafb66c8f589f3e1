// Package metrics exposes rebalancer metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "volbalance"

// Recorder records cycle and order metrics on its own registry
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
	orders        *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	capped        *prometheus.CounterVec
	pollAttempts  prometheus.Histogram
	portfolio     prometheus.Gauge
	cash          prometheus.Gauge
	weights       *prometheus.GaugeVec
}

// New creates a recorder with Go and process collectors registered
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Rebalance cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of rebalance cycles",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle",
		}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders by side and final status",
		}, []string{"side", "status"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_skipped_total",
			Help:      "Order intents skipped without a fill",
		}, []string{"side", "reason"}),
		capped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_capped_total",
			Help:      "Buys capped to available cash",
		}, []string{"asset"}),
		pollAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status queries needed per order",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60},
		}),
		portfolio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_value_krw",
			Help:      "Portfolio value after the last cycle",
		}),
		cash: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash_krw",
			Help:      "Cash after the last cycle",
		}),
		weights: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_weight",
			Help:      "Target weight per asset from the last cycle",
		}, []string{"asset"}),
	}
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// OrderFinished counts an order by its final status
func (r *Recorder) OrderFinished(side domain.Side, status domain.OrderStatus) {
	r.orders.WithLabelValues(string(side), string(status)).Inc()
}

// OrderSkipped counts an intent that was not filled
func (r *Recorder) OrderSkipped(side domain.Side, reason string) {
	r.skipped.WithLabelValues(string(side), reason).Inc()
}

// OrderCapped counts a buy reduced to the cash on hand
func (r *Recorder) OrderCapped(asset domain.Asset) {
	r.capped.WithLabelValues(asset.String()).Inc()
}

// PollAttempts observes how many status queries an order took
func (r *Recorder) PollAttempts(attempts int) {
	r.pollAttempts.Observe(float64(attempts))
}

// CycleFinished records a cycle outcome ("ok", "error", "busy")
func (r *Recorder) CycleFinished(outcome string, d time.Duration) {
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(d.Seconds())
	r.lastCycle.SetToCurrentTime()
}

// PortfolioUpdated records the post-cycle state
func (r *Recorder) PortfolioUpdated(value, cash float64, weights domain.WeightVector) {
	r.portfolio.Set(value)
	r.cash.Set(cash)
	for _, a := range weights.Assets {
		r.weights.WithLabelValues(a.String()).Set(weights.Get(a))
	}
}
