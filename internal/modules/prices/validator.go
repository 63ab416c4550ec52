package prices

import (
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

const (
	// Validation thresholds
	maxPriceMultiplier    = 10.0    // Close > 10x the context average is abnormal
	minPriceMultiplier    = 0.1     // Close < 0.1x the context average is abnormal
	maxPriceChangePercent = 1000.0  // >1000% day-over-day change is a spike
	minPriceChangePercent = -90.0   // <-90% day-over-day change is a crash
	absolutePriceMax      = 100000.0
	absolutePriceMin      = 0.01
	contextWindowDays     = 30 // SMA window for the context average
)

// Validator sanity-checks bars coming back from the market-data collaborator
// before they enter the cache. A rejected bar is an invariant violation for
// that ticker, not a batch failure.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a new price validator
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// Validate checks a single bar against its preceding context (ascending by
// date). Returns (isValid, reason).
func (v *Validator) Validate(bar domain.DailyBar, context []domain.DailyBar) (bool, string) {
	// OHLC consistency, no context needed
	if bar.High < bar.Low {
		return false, "high_below_low"
	}
	if bar.High < bar.Open || bar.High < bar.Close {
		return false, "high_below_open_or_close"
	}
	if bar.Low > bar.Open || bar.Low > bar.Close {
		return false, "low_above_open_or_close"
	}
	if bar.Close < absolutePriceMin || bar.Close > absolutePriceMax {
		return false, "price_out_of_bounds"
	}

	if len(context) == 0 {
		return true, ""
	}

	// Day-over-day change takes priority over average checks
	prevClose := context[len(context)-1].Close
	if prevClose > 0 {
		changePercent := ((bar.Close - prevClose) / prevClose) * 100.0
		if changePercent > maxPriceChangePercent {
			return false, "spike_detected"
		}
		if changePercent < minPriceChangePercent {
			return false, "crash_detected"
		}
	}

	// Compare against the rolling average of the recent context
	if avg := contextAverage(context); avg > 0 {
		if bar.Close > avg*maxPriceMultiplier {
			return false, "above_context_average"
		}
		if bar.Close < avg*minPriceMultiplier {
			return false, "below_context_average"
		}
	}

	return true, ""
}

// ValidateSeries filters a fetched batch, logging and dropping invalid bars.
// Returns the valid bars and the number rejected.
func (v *Validator) ValidateSeries(ticker string, bars []domain.DailyBar, context []domain.DailyBar) ([]domain.DailyBar, int) {
	valid := make([]domain.DailyBar, 0, len(bars))
	rejected := 0

	window := append([]domain.DailyBar{}, context...)
	for _, bar := range bars {
		ok, reason := v.Validate(bar, window)
		if !ok {
			rejected++
			v.log.Warn().
				Str("ticker", ticker).
				Str("date", bar.Date).
				Str("reason", reason).
				Float64("close", bar.Close).
				Msg("Rejected abnormal price bar")
			continue
		}
		valid = append(valid, bar)
		window = append(window, bar)
	}

	return valid, rejected
}

// contextAverage computes the SMA of the closing prices over the last
// contextWindowDays bars (or all of them when fewer are available).
func contextAverage(context []domain.DailyBar) float64 {
	period := len(context)
	if period > contextWindowDays {
		period = contextWindowDays
	}
	if period == 0 {
		return 0
	}

	closes := make([]float64, len(context))
	for i, b := range context {
		closes[i] = b.Close
	}

	if period == 1 {
		return closes[len(closes)-1]
	}

	sma := talib.Sma(closes, period)
	return sma[len(sma)-1]
}
