package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/modules/planning"
	"github.com/aristath/volbalance/internal/modules/portfolio"
	"github.com/aristath/volbalance/internal/modules/rebalancing"
	"github.com/aristath/volbalance/internal/modules/trading"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunCycle(ctx context.Context) (*rebalancing.CycleReport, error) {
	args := m.Called(ctx)
	report, _ := args.Get(0).(*rebalancing.CycleReport)
	return report, args.Error(1)
}

func (m *mockRunner) Preview(ctx context.Context) (*rebalancing.Preview, error) {
	args := m.Called(ctx)
	preview, _ := args.Get(0).(*rebalancing.Preview)
	return preview, args.Error(1)
}

func setupRouter(runner Runner) chi.Router {
	return setupRouterWith(runner, RunConfig{})
}

func setupRouterWith(runner Runner, cfg RunConfig) chi.Router {
	r := chi.NewRouter()
	NewHandler(runner, cfg, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func runRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/rebalance/run", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func weights() domain.WeightVector {
	w := domain.NewWeightVector([]domain.Asset{"BTC", "XRP"})
	w.Weights["BTC"] = 0.75
	w.Weights["XRP"] = 0.25
	return w
}

func TestHandlePreview(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Preview", mock.Anything).Return(&rebalancing.Preview{
		Snapshot: portfolio.Snapshot{Value: decimal.NewFromInt(1000000), Cash: decimal.NewFromInt(1000000)},
		Plan: planning.Plan{
			Weights: weights(),
			Intents: []domain.OrderIntent{{
				Asset: "BTC", Side: domain.SideBuy, TickPrice: decimal.NewFromInt(50000000),
				DeltaKRW: decimal.NewFromInt(750000), RawQuantity: decimal.RequireFromString("0.015"),
				Quantity: decimal.RequireFromString("0.015"),
			}},
			Holds: []planning.Hold{{Asset: "XRP", Weight: 0.25, Reason: planning.ReasonBelowMinimum}},
		},
	}, nil)

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rebalance/preview", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp struct {
		Data struct {
			PortfolioValue string             `json:"portfolio_value"`
			Weights        map[string]float64 `json:"weights"`
			Intents        []IntentResponse   `json:"intents"`
			Holds          []HoldResponse     `json:"holds"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "1000000", resp.Data.PortfolioValue)
	assert.Equal(t, 0.75, resp.Data.Weights["BTC"])
	require.Len(t, resp.Data.Intents, 1)
	assert.Equal(t, "BUY", resp.Data.Intents[0].Side)
	assert.Equal(t, "0.015", resp.Data.Intents[0].Quantity)
	require.Len(t, resp.Data.Holds, 1)
	assert.Equal(t, planning.ReasonBelowMinimum, resp.Data.Holds[0].Reason)
}

func TestHandlePreview_MissingQuote(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Preview", mock.Anything).Return(nil, fmt.Errorf("%w: MANA", domain.ErrMissingQuote))

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rebalance/preview", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleRun(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunCycle", mock.Anything).Return(&rebalancing.CycleReport{
		CycleID:    "cycle-1",
		Weights:    weights(),
		FinalCash:  decimal.NewFromInt(1234),
		FinalValue: decimal.NewFromInt(999000),
		Execution:  &trading.ExecutionReport{Submitted: 2},
	}, nil)

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rebalance/run", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "cycle-1", resp["data"]["cycle_id"])
	assert.Equal(t, "1234", resp["data"]["final_cash"])
	assert.Equal(t, float64(2), resp["data"]["submitted"])
	assert.NotContains(t, resp["metadata"], "error")
	runner.AssertExpectations(t)
}

func TestHandleRun_PartialFailureStillReports(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunCycle", mock.Anything).Return(&rebalancing.CycleReport{
		CycleID:   "cycle-2",
		Weights:   weights(),
		Execution: &trading.ExecutionReport{TimedOut: []*domain.Order{{ID: "o1"}}},
	}, fmt.Errorf("%w: 1 order(s) need manual review", domain.ErrOrderTimedOut))

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rebalance/run", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["data"]["timed_out"])
	assert.Contains(t, resp["metadata"]["error"], "manual review")
}

func TestHandleRun_Busy(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunCycle", mock.Anything).Return(nil, fmt.Errorf("%w: lock held", domain.ErrCycleInProgress))

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rebalance/run", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRun_Failure(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunCycle", mock.Anything).Return(nil, errors.New("candles unavailable"))

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rebalance/run", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// A client disconnect must not cancel a cycle that may have orders in flight.
func TestHandleRun_DetachedFromRequest(t *testing.T) {
	var (
		ctxErr      error
		deadline    time.Time
		hasDeadline bool
	)
	runner := &mockRunner{}
	runner.On("RunCycle", mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		ctxErr = ctx.Err()
		deadline, hasDeadline = ctx.Deadline()
	}).Return(&rebalancing.CycleReport{CycleID: "cycle-3", Weights: weights(), Execution: &trading.ExecutionReport{}}, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := runRequest("").WithContext(reqCtx)

	w := httptest.NewRecorder()
	setupRouterWith(runner, RunConfig{Timeout: time.Hour}).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, ctxErr)
	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)
}

func TestHandleRun_DefaultTimeout(t *testing.T) {
	var deadline time.Time
	runner := &mockRunner{}
	runner.On("RunCycle", mock.Anything).Run(func(args mock.Arguments) {
		deadline, _ = args.Get(0).(context.Context).Deadline()
	}).Return(&rebalancing.CycleReport{CycleID: "cycle-4", Weights: weights(), Execution: &trading.ExecutionReport{}}, nil)

	w := httptest.NewRecorder()
	setupRouter(runner).ServeHTTP(w, runRequest(""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.WithinDuration(t, time.Now().Add(DefaultRunTimeout), deadline, time.Minute)
}

func TestHandleRun_Token(t *testing.T) {
	tests := []struct {
		name   string
		cfg    RunConfig
		token  string
		status int
		runs   bool
	}{
		{"paper without token", RunConfig{}, "", http.StatusOK, true},
		{"live without token", RunConfig{Live: true}, "", http.StatusForbidden, false},
		{"live without token ignores header", RunConfig{Live: true}, "guess", http.StatusForbidden, false},
		{"token missing", RunConfig{Token: "s3cret"}, "", http.StatusUnauthorized, false},
		{"token wrong", RunConfig{Token: "s3cret", Live: true}, "nope", http.StatusUnauthorized, false},
		{"token accepted", RunConfig{Token: "s3cret", Live: true}, "s3cret", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			runner.On("RunCycle", mock.Anything).Return(&rebalancing.CycleReport{
				CycleID: "cycle-5", Weights: weights(), Execution: &trading.ExecutionReport{},
			}, nil)

			w := httptest.NewRecorder()
			setupRouterWith(runner, tt.cfg).ServeHTTP(w, runRequest(tt.token))

			assert.Equal(t, tt.status, w.Code)
			if tt.runs {
				runner.AssertCalled(t, "RunCycle", mock.Anything)
			} else {
				runner.AssertNotCalled(t, "RunCycle", mock.Anything)
			}
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestHandlePreview_NoTokenNeeded(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Preview", mock.Anything).Return(&rebalancing.Preview{Plan: planning.Plan{Weights: weights()}}, nil)

	w := httptest.NewRecorder()
	setupRouterWith(runner, RunConfig{Token: "s3cret", Live: true}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rebalance/preview", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
