package prices

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/marketecho/marketecho/internal/domain"
)

func bar(date string, close float64) domain.DailyBar {
	return domain.DailyBar{Date: date, Open: close, High: close, Low: close, Close: close}
}

func TestValidateOHLCConsistency(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	tests := []struct {
		name   string
		bar    domain.DailyBar
		valid  bool
		reason string
	}{
		{"valid bar", domain.DailyBar{Date: "2025-05-09", Open: 100, High: 105, Low: 99, Close: 104}, true, ""},
		{"high below low", domain.DailyBar{Date: "2025-05-09", Open: 100, High: 98, Low: 99, Close: 100}, false, "high_below_low"},
		{"high below close", domain.DailyBar{Date: "2025-05-09", Open: 100, High: 101, Low: 99, Close: 102}, false, "high_below_open_or_close"},
		{"low above open", domain.DailyBar{Date: "2025-05-09", Open: 98, High: 101, Low: 99, Close: 100}, false, "low_above_open_or_close"},
		{"near-zero close", domain.DailyBar{Date: "2025-05-09", Open: 0.001, High: 0.001, Low: 0.001, Close: 0.001}, false, "price_out_of_bounds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, reason := v.Validate(tt.bar, nil)
			assert.Equal(t, tt.valid, valid)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestValidateSpikeAndCrash(t *testing.T) {
	v := NewValidator(zerolog.Nop())
	context := []domain.DailyBar{bar("2025-05-08", 100)}

	valid, reason := v.Validate(bar("2025-05-09", 1200), context)
	assert.False(t, valid)
	assert.Equal(t, "spike_detected", reason)

	valid, reason = v.Validate(bar("2025-05-09", 5), context)
	assert.False(t, valid)
	assert.Equal(t, "crash_detected", reason)

	valid, _ = v.Validate(bar("2025-05-09", 104), context)
	assert.True(t, valid)
}

func TestValidateAgainstContextAverage(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	// Slow drift keeps day-over-day changes legal while moving far from
	// the rolling average; the average check catches only true outliers.
	var context []domain.DailyBar
	for i := 0; i < 40; i++ {
		context = append(context, bar("2025-03-01", 100))
	}

	// +850% day-over-day stays under the 1000% spike threshold, but the
	// close is more than 10x the rolling average.
	valid, reason := v.Validate(bar("2025-05-09", 950), context)
	assert.False(t, valid)
	assert.Equal(t, "above_context_average", reason)

	// A legal day-over-day move can still be an outlier against the average
	// when the previous close already drifted low.
	context = append(context, bar("2025-05-08", 50))
	valid, reason = v.Validate(bar("2025-05-09", 9), context)
	assert.False(t, valid)
	assert.Equal(t, "below_context_average", reason)
}

func TestValidateSeriesDropsOnlyBadBars(t *testing.T) {
	v := NewValidator(zerolog.Nop())

	bars := []domain.DailyBar{
		bar("2025-05-09", 100),
		{Date: "2025-05-12", Open: 100, High: 95, Low: 99, Close: 100}, // high below low
		bar("2025-05-13", 101),
	}

	valid, rejected := v.ValidateSeries("XOM", bars, nil)
	assert.Equal(t, 1, rejected)
	assert.Len(t, valid, 2)
	assert.Equal(t, "2025-05-09", valid[0].Date)
	assert.Equal(t, "2025-05-13", valid[1].Date)
}
