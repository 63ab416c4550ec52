package prices

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/marketecho/marketecho/internal/domain"
)

const snapshotVersion = 1

// snapshotFile is the on-disk cache snapshot format (msgpack).
type snapshotFile struct {
	Version   int              `msgpack:"version"`
	CreatedAt time.Time        `msgpack:"created_at"`
	Tickers   []tickerSnapshot `msgpack:"tickers"`
}

type tickerSnapshot struct {
	Ticker string            `msgpack:"ticker"`
	Bars   []domain.DailyBar `msgpack:"bars"`
	Ranges []Range           `msgpack:"ranges"`
}

// Snapshot writes the whole cache (bars plus fetched-range coverage) to a
// msgpack file so a later run can start warm without refetching.
func (c *Cache) Snapshot(path string) error {
	tickers, err := c.repo.Tickers()
	if err != nil {
		return fmt.Errorf("failed to list cached tickers: %w", err)
	}

	snap := snapshotFile{
		Version:   snapshotVersion,
		CreatedAt: time.Now().UTC(),
		Tickers:   make([]tickerSnapshot, 0, len(tickers)),
	}

	for _, ticker := range tickers {
		lock := c.tickerLock(ticker)
		lock.Lock()

		ranges, err := c.repo.FetchedRanges(ticker)
		if err != nil {
			lock.Unlock()
			return fmt.Errorf("failed to read ranges for %s: %w", ticker, err)
		}

		var bars []domain.DailyBar
		for _, r := range ranges {
			rangeBars, err := c.repo.GetRange(ticker, r.From, r.To)
			if err != nil {
				lock.Unlock()
				return fmt.Errorf("failed to read bars for %s: %w", ticker, err)
			}
			bars = MergeBars(bars, rangeBars)
		}
		lock.Unlock()

		snap.Tickers = append(snap.Tickers, tickerSnapshot{
			Ticker: ticker,
			Bars:   bars,
			Ranges: ranges,
		})
	}

	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	c.log.Info().
		Str("path", path).
		Int("tickers", len(snap.Tickers)).
		Msg("Wrote price cache snapshot")

	return nil
}

// Restore loads a snapshot written by Snapshot into the repository. Missing
// snapshot files are not an error; the cache simply starts cold.
func (c *Cache) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	for _, ts := range snap.Tickers {
		lock := c.tickerLock(ts.Ticker)
		lock.Lock()

		if err := CheckStrictlyIncreasing(ts.Ticker, ts.Bars); err != nil {
			lock.Unlock()
			return err
		}

		if err := c.repo.UpsertBars(ts.Ticker, ts.Bars); err != nil {
			lock.Unlock()
			return fmt.Errorf("failed to restore bars for %s: %w", ts.Ticker, err)
		}
		for _, r := range ts.Ranges {
			if err := c.repo.MarkFetched(ts.Ticker, r.From, r.To); err != nil {
				lock.Unlock()
				return fmt.Errorf("failed to restore range for %s: %w", ts.Ticker, err)
			}
		}
		lock.Unlock()
	}

	c.log.Info().
		Str("path", path).
		Int("tickers", len(snap.Tickers)).
		Time("created_at", snap.CreatedAt).
		Msg("Restored price cache snapshot")

	return nil
}
