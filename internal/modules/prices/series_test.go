package prices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketecho/marketecho/internal/domain"
)

func TestMergeBars(t *testing.T) {
	existing := []domain.DailyBar{
		{Date: "2025-05-09", Close: 110.0},
		{Date: "2025-05-12", Close: 111.2},
	}
	incoming := []domain.DailyBar{
		{Date: "2025-05-12", Close: 111.5}, // conflict: incoming wins
		{Date: "2025-05-13", Close: 112.45},
	}

	merged := MergeBars(existing, incoming)
	require.Len(t, merged, 3)
	assert.Equal(t, "2025-05-09", merged[0].Date)
	assert.Equal(t, 111.5, merged[1].Close)
	assert.Equal(t, "2025-05-13", merged[2].Date)
}

func TestCheckStrictlyIncreasing(t *testing.T) {
	ok := []domain.DailyBar{{Date: "2025-05-09"}, {Date: "2025-05-12"}}
	assert.NoError(t, CheckStrictlyIncreasing("XOM", ok))

	dup := []domain.DailyBar{{Date: "2025-05-09"}, {Date: "2025-05-09"}}
	err := CheckStrictlyIncreasing("XOM", dup)
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))

	backwards := []domain.DailyBar{{Date: "2025-05-12"}, {Date: "2025-05-09"}}
	assert.True(t, domain.IsInvariantViolation(CheckStrictlyIncreasing("XOM", backwards)))
}

func TestFindGapsIgnoresWeekendsAndHolidays(t *testing.T) {
	cal := NewCalendar()

	// Fri 5-23 through Wed 5-28; Mon 5-26 is Memorial Day.
	bars := []domain.DailyBar{
		{Date: "2025-05-23"},
		{Date: "2025-05-27"},
		{Date: "2025-05-28"},
	}

	gaps := FindGaps(cal, bars, "2025-05-23", "2025-05-28")
	assert.Empty(t, gaps, "weekend and holiday absences are not gaps")
}

func TestFindGapsFlagsMissingTradingDay(t *testing.T) {
	cal := NewCalendar()

	bars := []domain.DailyBar{
		{Date: "2025-05-09"},
		// 2025-05-12 (Monday) missing
		{Date: "2025-05-13"},
	}

	gaps := FindGaps(cal, bars, "2025-05-09", "2025-05-13")
	assert.Equal(t, []string{"2025-05-12"}, gaps)
}

func TestSliceRange(t *testing.T) {
	bars := []domain.DailyBar{
		{Date: "2025-05-09"},
		{Date: "2025-05-12"},
		{Date: "2025-05-13"},
	}

	got := SliceRange(bars, "2025-05-12", "2025-05-13")
	require.Len(t, got, 2)
	assert.Equal(t, "2025-05-12", got[0].Date)
}
