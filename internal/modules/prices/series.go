package prices

import (
	"sort"

	"github.com/marketecho/marketecho/internal/domain"
)

// MergeBars merges incoming bars into existing ones, keyed by date.
// Incoming bars win on conflict. The result is sorted by ascending date,
// preserving the strictly-increasing-date invariant.
func MergeBars(existing, incoming []domain.DailyBar) []domain.DailyBar {
	byDate := make(map[string]domain.DailyBar, len(existing)+len(incoming))
	for _, b := range existing {
		byDate[b.Date] = b
	}
	for _, b := range incoming {
		byDate[b.Date] = b
	}

	merged := make([]domain.DailyBar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}

// CheckStrictlyIncreasing verifies the series date invariant. A violation is
// fatal for this ticker's processing but must not abort the batch.
func CheckStrictlyIncreasing(ticker string, bars []domain.DailyBar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Date <= bars[i-1].Date {
			return &domain.InvariantViolationError{
				Ticker: ticker,
				Reason: "price series dates not strictly increasing at " + bars[i].Date,
			}
		}
	}
	return nil
}

// FindGaps returns trading days in [from, to] that have no bar. Weekends and
// holidays are expected absences and never reported; anything returned here
// is a real data gap that downstream return computation must not silently
// shift windows across.
func FindGaps(cal *Calendar, bars []domain.DailyBar, from, to string) []string {
	have := make(map[string]bool, len(bars))
	for _, b := range bars {
		have[b.Date] = true
	}

	var gaps []string
	for _, day := range cal.TradingDays(from, to) {
		if !have[day] {
			gaps = append(gaps, day)
		}
	}
	return gaps
}

// SliceRange returns the bars within [from, to].
func SliceRange(bars []domain.DailyBar, from, to string) []domain.DailyBar {
	var out []domain.DailyBar
	for _, b := range bars {
		if b.Date >= from && b.Date <= to {
			out = append(out, b)
		}
	}
	return out
}
