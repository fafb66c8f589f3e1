// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/planning"
	"github.com/aristath/volbalance/internal/modules/rebalancing"
	"github.com/rs/zerolog"
)

// Runner is the rebalancing service surface exposed over HTTP
type Runner interface {
	RunCycle(ctx context.Context) (*rebalancing.CycleReport, error)
	Preview(ctx context.Context) (*rebalancing.Preview, error)
}

// DefaultRunTimeout bounds a manual cycle when RunConfig.Timeout is unset
const DefaultRunTimeout = 30 * time.Minute

// RunConfig guards POST /rebalance/run
type RunConfig struct {
	// Timeout bounds the cycle. The cycle does not end when the client goes away.
	Timeout time.Duration
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string
	// Live disables the endpoint unless Token is set.
	Live bool
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	runner Runner
	cfg    RunConfig
	log    zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(runner Runner, cfg RunConfig, log zerolog.Logger) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRunTimeout
	}
	return &Handler{
		runner: runner,
		cfg:    cfg,
		log:    log.With().Str("handler", "rebalancing").Logger(),
	}
}

// IntentResponse is a planned order
type IntentResponse struct {
	Asset       string `json:"asset"`
	Side        string `json:"side"`
	TickPrice   string `json:"tick_price"`
	DeltaKRW    string `json:"delta_krw"`
	RawQuantity string `json:"raw_quantity"`
	Quantity    string `json:"quantity"`
}

// HoldResponse is an asset left alone
type HoldResponse struct {
	Asset    string  `json:"asset"`
	DeltaKRW string  `json:"delta_krw"`
	Weight   float64 `json:"weight"`
	Reason   string  `json:"reason"`
}

// HandlePreview handles GET /api/rebalance/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.runner.Preview(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build rebalance preview")
		http.Error(w, "Failed to build preview: "+err.Error(), statusFor(err))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"portfolio_value": preview.Snapshot.Value.String(),
			"cash":            preview.Snapshot.Cash.String(),
			"weights":         weightMap(preview.Plan.Weights),
			"intents":         intents(preview.Plan),
			"holds":           holds(preview.Plan),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"note":      "Dry-run calculation - no trades executed",
		},
	})
}

// HandleRun handles POST /api/rebalance/run.
// Orders already submitted must be polled to the end, so the cycle runs on a
// context that survives client disconnects, bounded by the run timeout.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.Timeout)
	defer cancel()

	report, err := h.runner.RunCycle(ctx)
	if report == nil {
		h.log.Error().Err(err).Msg("Rebalance cycle failed")
		http.Error(w, "Rebalance failed: "+err.Error(), statusFor(err))
		return
	}

	metadata := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if err != nil {
		metadata["error"] = err.Error()
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"cycle_id":       report.CycleID,
			"started_at":     report.StartedAt.Format(time.RFC3339),
			"finished_at":    report.FinishedAt.Format(time.RFC3339),
			"weights":        weightMap(report.Weights),
			"start_value":    report.StartValue.String(),
			"final_value":    report.FinalValue.String(),
			"final_cash":     report.FinalCash.String(),
			"submitted":      report.Execution.Submitted,
			"skipped":        report.Execution.Skipped,
			"timed_out":      len(report.Execution.TimedOut),
			"ledger_records": len(report.Records),
			"backup_key":     report.BackupKey,
		},
		"metadata": metadata,
	})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.cfg.Token == "" {
		if h.cfg.Live {
			h.log.Warn().Str("remote", r.RemoteAddr).Msg("Manual run refused: live mode without run token")
			http.Error(w, "Manual runs are disabled in live mode without a run token", http.StatusForbidden)
			return false
		}
		return true
	}

	given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(h.cfg.Token)) != 1 {
		h.log.Warn().Str("remote", r.RemoteAddr).Msg("Manual run refused: bad or missing token")
		w.Header().Set("WWW-Authenticate", `Bearer realm="volbalance"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingQuote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func weightMap(w domain.WeightVector) map[string]float64 {
	out := make(map[string]float64, len(w.Assets))
	for _, a := range w.Assets {
		out[a.String()] = w.Get(a)
	}
	return out
}

func intents(plan planning.Plan) []IntentResponse {
	out := make([]IntentResponse, 0, len(plan.Intents))
	for _, i := range plan.Intents {
		out = append(out, IntentResponse{
			Asset:       i.Asset.String(),
			Side:        string(i.Side),
			TickPrice:   i.TickPrice.String(),
			DeltaKRW:    i.DeltaKRW.StringFixed(0),
			RawQuantity: i.RawQuantity.String(),
			Quantity:    i.Quantity.String(),
		})
	}
	return out
}

func holds(plan planning.Plan) []HoldResponse {
	out := make([]HoldResponse, 0, len(plan.Holds))
	for _, h := range plan.Holds {
		out = append(out, HoldResponse{
			Asset:    h.Asset.String(),
			DeltaKRW: h.DeltaKRW.StringFixed(0),
			Weight:   h.Weight,
			Reason:   h.Reason,
		})
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
