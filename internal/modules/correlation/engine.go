package correlation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
	"github.com/marketecho/marketecho/internal/modules/prices"
	"github.com/marketecho/marketecho/internal/utils"
)

// Window is one (before, after) window pair in days. Endpoints are calendar
// offsets from the statement date snapped outward to trading days, so a
// Saturday statement with before=1 anchors on the preceding Friday close.
type Window struct {
	Before int
	After  int
}

func (w Window) String() string {
	return fmt.Sprintf("%d:%d", w.Before, w.After)
}

// PriceSource is the slice of the price cache the engine needs.
type PriceSource interface {
	Get(ctx context.Context, ticker, from, to string) (domain.PriceSeries, error)
}

// EventCalendar lists known statement-event dates per ticker. The baseline
// excludes days near these to avoid contaminating the control period.
type EventCalendar interface {
	EventDates(ticker string) ([]string, error)
}

// Config bounds the baseline construction.
type Config struct {
	// BaselineDays is the number of trailing non-event samples to collect.
	BaselineDays int
	// MinSamples is the floor below which a result is flagged low confidence.
	MinSamples int
}

// Engine computes correlation results for (statement, ticker, window)
// triples. Given identical inputs its output is bit-for-bit reproducible:
// windowing and baseline sampling are deterministic slices, never draws.
type Engine struct {
	pricesSrc PriceSource
	events    EventCalendar
	scorer    SignificanceScorer
	cal       *prices.Calendar
	cfg       Config
	log       zerolog.Logger
}

// NewEngine creates a correlation engine.
func NewEngine(src PriceSource, events EventCalendar, scorer SignificanceScorer, cal *prices.Calendar, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		pricesSrc: src,
		events:    events,
		scorer:    scorer,
		cal:       cal,
		cfg:       cfg,
		log:       log.With().Str("component", "correlation").Logger(),
	}
}

// Failure records one (ticker, window) pair that could not be evaluated.
// Failures are isolated; one poisoned ticker never aborts the batch.
type Failure struct {
	Ticker string
	Window Window
	Err    error
}

// Evaluate computes one result per (candidate, window) pair. Candidates with
// too little baseline data come back flagged low confidence rather than
// suppressed; pairs that fail outright (unknown ticker, invariant violation)
// are returned as Failures for the caller to count.
func (e *Engine) Evaluate(ctx context.Context, stmt domain.Statement, candidates []domain.TickerCandidate, ambiguous bool, windows []Window) ([]domain.CorrelationResult, []Failure) {
	var results []domain.CorrelationResult
	var failures []Failure

	for _, candidate := range candidates {
		for _, window := range windows {
			result, err := e.evaluateOne(ctx, stmt, candidate, window)
			if err != nil {
				failures = append(failures, Failure{Ticker: candidate.Ticker, Window: window, Err: err})
				e.log.Warn().
					Err(err).
					Str("statement_id", stmt.ID).
					Str("ticker", candidate.Ticker).
					Str("window", window.String()).
					Msg("Failed to evaluate pair")
				continue
			}
			result.Ambiguous = ambiguous
			results = append(results, result)
		}
	}

	return results, failures
}

func (e *Engine) evaluateOne(ctx context.Context, stmt domain.Statement, candidate domain.TickerCandidate, window Window) (domain.CorrelationResult, error) {
	stmtDate := utils.FormatDate(stmt.Timestamp.UTC())
	day0 := e.cal.NextTradingDay(stmtDate)
	windowStart := e.cal.PrevTradingDay(shiftDate(stmtDate, -window.Before))
	windowEnd := e.cal.NextTradingDay(shiftDate(stmtDate, window.After))

	// Window span in trading days; baseline samples measure returns over the
	// same span.
	span := e.cal.TradingDaysBetween(windowStart, windowEnd)
	if span == 0 {
		return domain.CorrelationResult{}, fmt.Errorf("degenerate window %s for %s", window, candidate.Ticker)
	}

	// One fetch covers the event window and the trailing baseline period.
	fetchFrom := e.cal.AddTradingDays(windowStart, -(e.cfg.BaselineDays*2 + span))
	series, err := e.pricesSrc.Get(ctx, candidate.Ticker, fetchFrom, windowEnd)
	if err != nil {
		return domain.CorrelationResult{}, err
	}

	result := domain.CorrelationResult{
		StatementID:      stmt.ID,
		Ticker:           candidate.Ticker,
		WindowBeforeDays: window.Before,
		WindowAfterDays:  window.After,
		AnchorDate:       day0,
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		ResolutionMethod: candidate.Method,
		ResolutionScore:  candidate.Confidence,
	}

	startClose, startOK := series.CloseOn(windowStart)
	endClose, endOK := series.CloseOn(windowEnd)
	if !startOK || !endOK {
		// A gap at a window endpoint: the window must not silently shift, so
		// the result is emitted flagged rather than recomputed elsewhere.
		result.DataGap = true
		result.LowConfidence = true
		return result, nil
	}

	result.ObservedReturn = endClose/startClose - 1

	for _, gap := range series.Gaps {
		if gap > windowStart && gap < windowEnd {
			result.DataGap = true
			result.LowConfidence = true
			break
		}
	}

	baseline, err := e.baselineSamples(series, candidate.Ticker, windowStart, span, window)
	if err != nil {
		return domain.CorrelationResult{}, err
	}

	result.Significance, result.Baseline = e.scorer.Score(result.ObservedReturn, baseline)
	if len(baseline) < e.cfg.MinSamples {
		result.LowConfidence = true
	}

	result.DirectionAgreement = sameSign(stmt.Sentiment, result.ObservedReturn)
	return result, nil
}

// baselineSamples walks trading days backward from the event window and
// collects up to BaselineDays returns over the same span, skipping anchors
// whose measurement interval comes near a known event date for the ticker.
// The walk is a deterministic slice of the calendar.
func (e *Engine) baselineSamples(series domain.PriceSeries, ticker, windowStart string, span int, window Window) ([]float64, error) {
	eventDates, err := e.events.EventDates(ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to load event dates for %s: %w", ticker, err)
	}

	// An anchor is contaminated if its interval [anchor, anchor+span] falls
	// within before+after calendar days of any event date.
	margin := window.Before + window.After
	contaminated := func(anchor, end string) bool {
		for _, event := range eventDates {
			lo := shiftDate(event, -margin)
			hi := shiftDate(event, margin)
			if (anchor >= lo && anchor <= hi) || (end >= lo && end <= hi) {
				return true
			}
		}
		return false
	}

	if len(series.Bars) == 0 {
		return nil, nil
	}
	firstDate := series.Bars[0].Date

	var samples []float64

	// The newest sample interval must end before the event window starts.
	end := e.cal.PrevTradingDay(shiftDate(windowStart, -1))
	anchor := e.cal.AddTradingDays(end, -span)

	// Bound the scan so sparse data cannot walk back forever.
	for scanned := 0; len(samples) < e.cfg.BaselineDays && scanned < e.cfg.BaselineDays*3; scanned++ {
		anchorClose, anchorOK := series.CloseOn(anchor)
		endClose, endOK := series.CloseOn(end)

		if anchorOK && endOK && !contaminated(anchor, end) {
			samples = append(samples, endClose/anchorClose-1)
		}

		end = e.cal.AddTradingDays(end, -1)
		anchor = e.cal.AddTradingDays(anchor, -1)

		if anchor < firstDate {
			break
		}
	}

	// Samples were collected newest-first; reverse into chronological order
	// so the output is stable regardless of collection direction.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}

	return samples, nil
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	return (a > 0) == (b > 0)
}

func shiftDate(date string, n int) string {
	t, err := utils.ParseDate(date)
	if err != nil {
		return date
	}
	return utils.FormatDate(t.AddDate(0, 0, n))
}
