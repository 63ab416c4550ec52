package prices

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketecho/marketecho/internal/domain"
)

// fakeFetcher serves bars from a fixed map and counts calls per ticker.
type fakeFetcher struct {
	mu    sync.Mutex
	bars  map[string][]domain.DailyBar
	calls map[string]int
	errs  map[string]error
	block chan struct{} // when set, fetches wait until it is closed
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bars:  make(map[string][]domain.DailyBar),
		calls: make(map[string]int),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) FetchPrices(ctx context.Context, ticker, from, to string) ([]domain.DailyBar, error) {
	f.mu.Lock()
	f.calls[ticker]++
	block := f.block
	err := f.errs[ticker]
	all := f.bars[ticker]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	out := SliceRange(all, from, to)
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrNoData)
	}
	return out, nil
}

func (f *fakeFetcher) callCount(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ticker]
}

func newTestCache(t *testing.T, fetcher Fetcher) *Cache {
	t.Helper()
	repo := newTestRepo(t)
	return NewCache(repo, fetcher, NewCalendar(), NewValidator(zerolog.Nop()), zerolog.Nop())
}

func xomWeek() []domain.DailyBar {
	return []domain.DailyBar{
		{Date: "2025-05-08", Open: 109.0, High: 109.9, Low: 108.5, Close: 109.40},
		{Date: "2025-05-09", Open: 109.5, High: 110.5, Low: 109.0, Close: 110.00},
		{Date: "2025-05-12", Open: 110.2, High: 111.9, Low: 110.0, Close: 111.20},
		{Date: "2025-05-13", Open: 111.3, High: 112.8, Low: 111.0, Close: 112.45},
	}
}

func TestGetFetchesAndCaches(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bars["XOM"] = xomWeek()
	cache := newTestCache(t, fetcher)

	series, err := cache.Get(context.Background(), "XOM", "2025-05-08", "2025-05-13")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 4)
	assert.Empty(t, series.Gaps)
	assert.Equal(t, 1, fetcher.callCount("XOM"))

	// Second call is served entirely from cache
	series, err = cache.Get(context.Background(), "XOM", "2025-05-08", "2025-05-13")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 4)
	assert.Equal(t, 1, fetcher.callCount("XOM"))
}

func TestGetFetchesOnlyMissingSubrange(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bars["XOM"] = xomWeek()
	cache := newTestCache(t, fetcher)

	_, err := cache.Get(context.Background(), "XOM", "2025-05-08", "2025-05-09")
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount("XOM"))

	// Extending the range fetches only the uncovered tail
	series, err := cache.Get(context.Background(), "XOM", "2025-05-08", "2025-05-13")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 4)
	assert.Equal(t, 2, fetcher.callCount("XOM"))
}

func TestGetFlagsDataGap(t *testing.T) {
	fetcher := newFakeFetcher()
	// Monday 2025-05-12 missing from an otherwise covered range
	fetcher.bars["XOM"] = []domain.DailyBar{
		{Date: "2025-05-09", Open: 109.5, High: 110.5, Low: 109.0, Close: 110.00},
		{Date: "2025-05-13", Open: 111.3, High: 112.8, Low: 111.0, Close: 112.45},
	}
	cache := newTestCache(t, fetcher)

	series, err := cache.Get(context.Background(), "XOM", "2025-05-09", "2025-05-13")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-05-12"}, series.Gaps)
}

func TestGetUnknownTickerPropagates(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["NOPE"] = fmt.Errorf("NOPE: %w", domain.ErrUnknownTicker)
	cache := newTestCache(t, fetcher)

	_, err := cache.Get(context.Background(), "NOPE", "2025-05-09", "2025-05-13")
	assert.ErrorIs(t, err, domain.ErrUnknownTicker)
}

func TestGetEmptyRangeMarksCovered(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bars["XOM"] = xomWeek() // weekend-only query returns no bars
	cache := newTestCache(t, fetcher)

	series, err := cache.Get(context.Background(), "XOM", "2025-05-10", "2025-05-11")
	require.NoError(t, err)
	assert.Empty(t, series.Bars)
	require.Equal(t, 1, fetcher.callCount("XOM"))

	// The empty range was marked covered, so no refetch happens
	_, err = cache.Get(context.Background(), "XOM", "2025-05-10", "2025-05-11")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.callCount("XOM"))
}

func TestConcurrentGetsCoalescePerTicker(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bars["XOM"] = xomWeek()
	fetcher.block = make(chan struct{})
	cache := newTestCache(t, fetcher)

	var started, done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Add(1)
			_, err := cache.Get(context.Background(), "XOM", "2025-05-08", "2025-05-13")
			assert.NoError(t, err)
			done.Add(1)
		}()
	}

	// Let the goroutines queue behind the per-ticker lock, then release
	for started.Load() < 5 {
	}
	close(fetcher.block)
	wg.Wait()

	assert.EqualValues(t, 5, done.Load())
	assert.Equal(t, 1, fetcher.callCount("XOM"), "only one fetch should reach the collaborator")
}

func TestGetCancelledBeforeFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bars["XOM"] = xomWeek()
	cache := newTestCache(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.Get(ctx, "XOM", "2025-05-08", "2025-05-13")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fetcher.callCount("XOM"), "no new work after cancellation")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bars["XOM"] = xomWeek()
	cache := newTestCache(t, fetcher)

	_, err := cache.Get(context.Background(), "XOM", "2025-05-08", "2025-05-13")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "prices.snapshot")
	require.NoError(t, cache.Snapshot(path))

	// A fresh cache restored from the snapshot serves the range without
	// touching the collaborator.
	coldFetcher := newFakeFetcher()
	restored := newTestCache(t, coldFetcher)
	require.NoError(t, restored.Restore(path))

	series, err := restored.Get(context.Background(), "XOM", "2025-05-08", "2025-05-13")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 4)
	assert.Equal(t, 0, coldFetcher.callCount("XOM"))
}

func TestRestoreMissingSnapshotIsNoOp(t *testing.T) {
	cache := newTestCache(t, newFakeFetcher())
	assert.NoError(t, cache.Restore(filepath.Join(t.TempDir(), "absent.snapshot")))
}
