// Package upbit provides a REST client for the Upbit exchange (KRW markets).
package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/volbalance/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultBaseURL is the Upbit Open API endpoint
	DefaultBaseURL = "https://api.upbit.com"

	// maxCandleCount is the largest page /v1/candles/days returns
	maxCandleCount = 200

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

var errRequestFailed = errors.New("request failed")

// Config configures the Upbit client
type Config struct {
	BaseURL    string
	AccessKey  string
	SecretKey  string
	Timeout    time.Duration
	MaxRetries int
}

// Client is the Upbit REST client. Market data endpoints are public; order
// and account endpoints are signed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *signer
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	log        zerolog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// NewClient creates a new Upbit client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signer:     newSigner(cfg.AccessKey, cfg.SecretKey),
		maxRetries: maxRetries,
		sleep:      sleepContext,
		log:        log.With().Str("client", "upbit").Logger(),
	}
}

// GetHistoricalCloses returns up to count daily closes, oldest first.
// Upbit returns candles newest first.
func (c *Client) GetHistoricalCloses(ctx context.Context, asset domain.Asset, count int) ([]float64, error) {
	if count <= 0 {
		return nil, nil
	}
	if count > maxCandleCount {
		count = maxCandleCount
	}

	params := url.Values{}
	params.Set("market", asset.Market())
	params.Set("count", strconv.Itoa(count))

	var candles []Candle
	if err := c.get(ctx, "/v1/candles/days", params, false, &candles); err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", asset, err)
	}

	return closesOldestFirst(candles), nil
}

// GetCurrentPrice returns the last traded price of an asset
func (c *Client) GetCurrentPrice(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("markets", asset.Market())

	var tickers []Ticker
	if err := c.get(ctx, "/v1/ticker", params, false, &tickers); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch ticker for %s: %w", asset, err)
	}

	for _, t := range tickers {
		if t.Market == asset.Market() && t.TradePrice.IsPositive() {
			return t.TradePrice, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrMissingQuote, asset)
}

// SubmitOrder places a market order. Submission is never retried: a retry
// after a lost response could double the order.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	params, err := orderParams(req)
	if err != nil {
		return "", err
	}

	var resp OrderResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", params, true, &resp); err != nil {
		return "", fmt.Errorf("failed to submit %s order for %s: %w", req.Side, req.Asset, err)
	}
	if resp.UUID == "" {
		return "", fmt.Errorf("failed to submit %s order for %s: empty order uuid", req.Side, req.Asset)
	}

	c.log.Info().
		Str("order_id", resp.UUID).
		Str("market", resp.Market).
		Str("side", resp.Side).
		Str("ord_type", resp.OrdType).
		Msg("Order submitted")

	return resp.UUID, nil
}

// GetOrderStatus returns the current state and fills of an order
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("uuid", orderID)

	var resp OrderResponse
	if err := c.get(ctx, "/v1/order", params, true, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	return transformOrder(resp)
}

// GetBalances returns KRW cash and per-currency holdings
func (c *Client) GetBalances(ctx context.Context) (*domain.Balances, error) {
	var accounts []Account
	if err := c.get(ctx, "/v1/accounts", nil, true, &accounts); err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	return transformAccounts(accounts), nil
}

// get performs an idempotent request, retrying throttling and server errors
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			c.log.Warn().
				Err(lastErr).
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying request")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = c.do(ctx, http.MethodGet, path, params, signed, out)
		if lastErr == nil || !retryable(ctx, lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	endpoint := c.baseURL + path
	var body io.Reader

	if method == http.MethodGet {
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	} else {
		fields := make(map[string]string, len(params))
		for k := range params {
			fields[k] = params.Get(k)
		}
		// encoding/json writes map keys sorted, the same order queryHash uses
		jsonData, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if signed {
		token, err := c.signer.token(params)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyStr := string(respBody)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("path", path).
			Str("body", bodyStr).
			Msg("Upbit API returned non-2xx status")
		return parseAPIError(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || (env.Error.Name == "" && env.Error.Message == "") {
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
	env.Error.StatusCode = status
	return &env.Error
}

// retryable reports whether a failed GET should be attempted again
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return errors.Is(err, errRequestFailed)
}

// backoff returns retryBaseDelay * 2^n, capped at retryMaxDelay
func backoff(n int) time.Duration {
	if n < 0 {
		return retryBaseDelay
	}
	if n > 30 {
		return retryMaxDelay
	}
	d := retryBaseDelay * time.Duration(1<<n)
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
