package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
	"github.com/marketecho/marketecho/internal/utils"
)

// Fetcher is the narrow interface the cache needs from the market-data
// collaborator client.
type Fetcher interface {
	FetchPrices(ctx context.Context, ticker, from, to string) ([]domain.DailyBar, error)
}

// Cache is the price series cache. It is the sole shared mutable resource in
// a batch run: reads hit the local repository, misses fetch only the missing
// sub-ranges from the collaborator. Concurrent requests for the same ticker
// are coalesced behind a per-ticker lock so at most one fetch per ticker is
// in flight; unrelated tickers proceed in parallel.
type Cache struct {
	repo      *Repository
	fetcher   Fetcher
	cal       *Calendar
	validator *Validator
	log       zerolog.Logger

	mu      sync.Mutex
	tickers map[string]*sync.Mutex
}

// NewCache creates a new price series cache.
func NewCache(repo *Repository, fetcher Fetcher, cal *Calendar, validator *Validator, log zerolog.Logger) *Cache {
	return &Cache{
		repo:      repo,
		fetcher:   fetcher,
		cal:       cal,
		validator: validator,
		log:       log.With().Str("component", "price_cache").Logger(),
		tickers:   make(map[string]*sync.Mutex),
	}
}

// tickerLock returns the coalescing lock for a ticker.
func (c *Cache) tickerLock(ticker string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.tickers[ticker]
	if !ok {
		lock = &sync.Mutex{}
		c.tickers[ticker] = lock
	}
	return lock
}

// Get returns the price series for ticker over [from, to] (inclusive).
// Cached dates are never refetched; only missing sub-ranges go to the
// collaborator. Gaps on trading days inside the covered range are surfaced
// on the returned series, never silently skipped.
func (c *Cache) Get(ctx context.Context, ticker, from, to string) (domain.PriceSeries, error) {
	lock := c.tickerLock(ticker)
	lock.Lock()
	defer lock.Unlock()

	covered, err := c.repo.FetchedRanges(ticker)
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("failed to read coverage for %s: %w", ticker, err)
	}

	for _, missing := range missingSubranges(from, to, covered) {
		// Cancellation is cooperative: a fetch already started completes,
		// but no new sub-range fetch is scheduled.
		if ctx.Err() != nil {
			return domain.PriceSeries{}, fmt.Errorf("get %s cancelled: %w", ticker, ctx.Err())
		}

		if err := c.fetchRange(ctx, ticker, missing.From, missing.To); err != nil {
			return domain.PriceSeries{}, err
		}
	}

	bars, err := c.repo.GetRange(ticker, from, to)
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("failed to read cached bars for %s: %w", ticker, err)
	}

	if err := CheckStrictlyIncreasing(ticker, bars); err != nil {
		return domain.PriceSeries{}, err
	}

	gaps := FindGaps(c.cal, bars, from, to)
	if len(gaps) > 0 {
		if err := c.repo.RecordGaps(ticker, gaps); err != nil {
			c.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to persist data gaps")
		}
	}

	return domain.PriceSeries{Ticker: ticker, Bars: bars, Gaps: gaps}, nil
}

// fetchRange fetches one missing sub-range and persists the result.
func (c *Cache) fetchRange(ctx context.Context, ticker, from, to string) error {
	bars, err := c.fetcher.FetchPrices(ctx, ticker, from, to)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			// The symbol exists but the range is empty (e.g. holidays only).
			// Mark it covered so it is never refetched.
			if markErr := c.repo.MarkFetched(ticker, from, to); markErr != nil {
				return fmt.Errorf("failed to mark empty range for %s: %w", ticker, markErr)
			}
			return nil
		}
		return err
	}

	window, err := c.repo.GetRange(ticker, shiftDate(from, -contextWindowDays*2), shiftDate(from, -1))
	if err != nil {
		return fmt.Errorf("failed to read validation context for %s: %w", ticker, err)
	}

	valid, rejected := c.validator.ValidateSeries(ticker, bars, window)
	if rejected > 0 && len(valid) == 0 {
		return &domain.InvariantViolationError{
			Ticker: ticker,
			Reason: fmt.Sprintf("all %d fetched bars rejected by validation", rejected),
		}
	}

	if err := CheckStrictlyIncreasing(ticker, valid); err != nil {
		return err
	}

	if err := c.repo.UpsertBars(ticker, valid); err != nil {
		return fmt.Errorf("failed to persist bars for %s: %w", ticker, err)
	}
	if err := c.repo.MarkFetched(ticker, from, to); err != nil {
		return fmt.Errorf("failed to mark fetched range for %s: %w", ticker, err)
	}

	c.log.Debug().
		Str("ticker", ticker).
		Str("from", from).
		Str("to", to).
		Int("bars", len(valid)).
		Int("rejected", rejected).
		Msg("Fetched price sub-range")

	return nil
}

// missingSubranges subtracts covered ranges from [from, to], returning the
// maximal uncovered runs in date order.
func missingSubranges(from, to string, covered []Range) []Range {
	start, err := utils.ParseDate(from)
	if err != nil {
		return nil
	}
	end, err := utils.ParseDate(to)
	if err != nil || end.Before(start) {
		return nil
	}

	isCovered := func(d string) bool {
		for _, r := range covered {
			if d >= r.From && d <= r.To {
				return true
			}
		}
		return false
	}

	var missing []Range
	var runStart string
	for t := start; !t.After(end); t = t.AddDate(0, 0, 1) {
		d := utils.FormatDate(t)
		if isCovered(d) {
			if runStart != "" {
				missing = append(missing, Range{From: runStart, To: utils.FormatDate(t.AddDate(0, 0, -1))})
				runStart = ""
			}
			continue
		}
		if runStart == "" {
			runStart = d
		}
	}
	if runStart != "" {
		missing = append(missing, Range{From: runStart, To: utils.FormatDate(end)})
	}

	return missing
}

// shiftDate moves a date by n calendar days.
func shiftDate(date string, n int) string {
	t, err := utils.ParseDate(date)
	if err != nil {
		return date
	}
	return utils.FormatDate(t.AddDate(0, 0, n))
}
