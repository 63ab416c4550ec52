// Package marketdata provides a client for the external market-data
// collaborator. The collaborator serves daily OHLCV bars per ticker; the
// client keeps "ticker unknown" distinguishable from "no data in range" and
// retries transient failures with exponential backoff.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// barResponse is the collaborator's wire format for a price query.
type barResponse struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume *int64  `json:"volume,omitempty"`
	} `json:"bars"`
}

// errorResponse is the collaborator's wire format for failures.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is the market-data collaborator client.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	log         zerolog.Logger
	maxAttempts int
	backoffBase time.Duration
}

// NewClient creates a new market-data client.
// apiKey is optional depending on the collaborator deployment.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		log:         log.With().Str("component", "marketdata").Logger(),
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

// SetMaxAttempts overrides the retry budget. Used in tests.
func (c *Client) SetMaxAttempts(n int) {
	if n > 0 {
		c.maxAttempts = n
	}
}

// SetBackoffBase overrides the initial backoff delay. Used in tests.
func (c *Client) SetBackoffBase(d time.Duration) {
	c.backoffBase = d
}

// FetchPrices fetches daily bars for ticker in [from, to] (inclusive).
// Returns domain.ErrUnknownTicker when the collaborator does not know the
// symbol, domain.ErrNoData when the symbol exists but the range is empty,
// and domain.ErrRateLimited / domain.ErrUnavailable after retries are
// exhausted on transient failures.
func (c *Client) FetchPrices(ctx context.Context, ticker, from, to string) ([]domain.DailyBar, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * time.Duration(1<<(attempt-1))
			c.log.Debug().
				Str("ticker", ticker).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying market data fetch")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch cancelled for %s: %w", ticker, ctx.Err())
			case <-time.After(delay):
			}
		}

		bars, err := c.fetchOnce(ctx, ticker, from, to)
		if err == nil {
			return bars, nil
		}
		if !domain.Retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("fetch failed for %s after %d attempts: %w", ticker, c.maxAttempts, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, ticker, from, to string) ([]domain.DailyBar, error) {
	endpoint := fmt.Sprintf("%s/v1/daily?%s", c.baseURL, url.Values{
		"symbol": {ticker},
		"from":   {from},
		"to":     {to},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrUnknownTicker)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: status %d: %w", ticker, resp.StatusCode, domain.ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
			return nil, fmt.Errorf("market data error for %s: %s (%s)", ticker, errResp.Message, errResp.Code)
		}
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, ticker)
	}

	var parsed barResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s: %w", ticker, err)
	}

	if len(parsed.Bars) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", ticker, from, to, domain.ErrNoData)
	}

	bars := make([]domain.DailyBar, 0, len(parsed.Bars))
	for _, b := range parsed.Bars {
		bars = append(bars, domain.DailyBar{
			Date:   b.Date,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	return bars, nil
}
