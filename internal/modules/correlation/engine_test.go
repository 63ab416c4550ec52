package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketecho/marketecho/internal/domain"
	"github.com/marketecho/marketecho/internal/modules/prices"
)

// fakePriceSource serves pre-built bars, sliced to the requested range.
type fakePriceSource struct {
	bars map[string][]domain.DailyBar
	gaps map[string][]string
	errs map[string]error
}

func newFakePriceSource() *fakePriceSource {
	return &fakePriceSource{
		bars: make(map[string][]domain.DailyBar),
		gaps: make(map[string][]string),
		errs: make(map[string]error),
	}
}

func (f *fakePriceSource) Get(_ context.Context, ticker, from, to string) (domain.PriceSeries, error) {
	if err := f.errs[ticker]; err != nil {
		return domain.PriceSeries{}, err
	}

	var bars []domain.DailyBar
	for _, b := range f.bars[ticker] {
		if b.Date >= from && b.Date <= to {
			bars = append(bars, b)
		}
	}
	var gaps []string
	for _, g := range f.gaps[ticker] {
		if g >= from && g <= to {
			gaps = append(gaps, g)
		}
	}
	return domain.PriceSeries{Ticker: ticker, Bars: bars, Gaps: gaps}, nil
}

type fakeEvents struct {
	dates map[string][]string
}

func (f *fakeEvents) EventDates(ticker string) ([]string, error) {
	return f.dates[ticker], nil
}

// genBars builds one bar per trading day in [from, to] with closes from fn,
// indexed by trading-day ordinal.
func genBars(cal *prices.Calendar, from, to string, fn func(i int) float64) []domain.DailyBar {
	days := cal.TradingDays(from, to)
	bars := make([]domain.DailyBar, 0, len(days))
	for i, d := range days {
		c := fn(i)
		bars = append(bars, domain.DailyBar{Date: d, Open: c, High: c, Low: c, Close: c})
	}
	return bars
}

func setClose(bars []domain.DailyBar, date string, close float64) {
	for i := range bars {
		if bars[i].Date == date {
			bars[i].Close = close
		}
	}
}

func newTestEngine(src PriceSource, events EventCalendar) *Engine {
	return NewEngine(src, events, NewZScoreScorer(), prices.NewCalendar(),
		Config{BaselineDays: 60, MinSamples: 20}, zerolog.Nop())
}

func energyStatement() domain.Statement {
	return domain.Statement{
		ID:        "s1",
		Source:    "bluesky",
		Author:    "sen_doe",
		Timestamp: time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC),
		Text:      "We must support American energy companies!",
		Sentiment: 0.8,
	}
}

func exactXOM() domain.TickerCandidate {
	return domain.TickerCandidate{Ticker: "XOM", Confidence: 1.0, Method: domain.MethodExact}
}

func TestZScoreScorer(t *testing.T) {
	scorer := NewZScoreScorer()

	// 20 samples with mean 0.001 and population stddev exactly 0.01
	var baseline []float64
	for i := 0; i < 10; i++ {
		baseline = append(baseline, 0.011, -0.009)
	}

	score, stats := scorer.Score(0.0223, baseline)
	assert.InDelta(t, 0.001, stats.Mean, 1e-12)
	assert.InDelta(t, 0.01, stats.StdDev, 1e-12)
	assert.Equal(t, 20, stats.Samples)
	assert.InDelta(t, 2.13, score, 0.005)
}

func TestZScoreScorerDegenerate(t *testing.T) {
	scorer := NewZScoreScorer()

	score, stats := scorer.Score(0.05, nil)
	assert.Zero(t, score)
	assert.Zero(t, stats.Samples)

	score, stats = scorer.Score(0.05, []float64{0.01, 0.01, 0.01})
	assert.Zero(t, score, "zero variance scores zero")
	assert.Equal(t, 3, stats.Samples)
}

func TestEvaluateWeekendStatement(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()

	bars := genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 {
		return 100 + float64(i%7)*0.3
	})
	setClose(bars, "2025-05-09", 110.00)
	setClose(bars, "2025-05-12", 111.20)
	setClose(bars, "2025-05-13", 112.45)
	src.bars["XOM"] = bars

	events := &fakeEvents{dates: map[string][]string{"XOM": {"2025-05-12"}}}
	engine := newTestEngine(src, events)

	results, failures := engine.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, []Window{{Before: 1, After: 3}})

	require.Empty(t, failures)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "2025-05-12", r.AnchorDate, "Saturday statement anchors on Monday")
	assert.Equal(t, "2025-05-09", r.WindowStart)
	assert.Equal(t, "2025-05-13", r.WindowEnd)
	assert.InDelta(t, 0.0223, r.ObservedReturn, 0.0005)
	assert.Greater(t, r.Significance, 2.0)
	assert.True(t, r.DirectionAgreement)
	assert.False(t, r.LowConfidence)
	assert.False(t, r.DataGap)
	assert.Equal(t, domain.MethodExact, r.ResolutionMethod)
	assert.Equal(t, 1.0, r.ResolutionScore)
}

func TestEvaluateObservedReturnRoundTrip(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()

	// Wednesday statement: before=1 lands on Tuesday, after=3 crosses the
	// weekend to Monday.
	bars := genBars(cal, "2024-11-01", "2025-05-19", func(i int) float64 { return 100 })
	setClose(bars, "2025-05-13", 100.00)
	setClose(bars, "2025-05-19", 102.00)
	src.bars["ACME"] = bars

	engine := newTestEngine(src, &fakeEvents{})
	stmt := energyStatement()
	stmt.Timestamp = time.Date(2025, 5, 14, 12, 0, 0, 0, time.UTC)

	results, failures := engine.Evaluate(context.Background(), stmt,
		[]domain.TickerCandidate{{Ticker: "ACME", Confidence: 1.0, Method: domain.MethodExact}},
		false, []Window{{Before: 1, After: 3}})

	require.Empty(t, failures)
	require.Len(t, results, 1)
	assert.Equal(t, "2025-05-13", results[0].WindowStart)
	assert.Equal(t, "2025-05-19", results[0].WindowEnd)
	assert.InDelta(t, 0.02, results[0].ObservedReturn, 1e-9)
}

func TestEvaluateDeterministic(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()
	src.bars["XOM"] = genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 {
		return 100 + float64(i%11)*0.25
	})

	engine := newTestEngine(src, &fakeEvents{dates: map[string][]string{"XOM": {"2025-05-12"}}})
	windows := []Window{{Before: 1, After: 3}, {Before: 1, After: 5}}

	first, _ := engine.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, windows)
	for i := 0; i < 5; i++ {
		again, _ := engine.Evaluate(context.Background(), energyStatement(),
			[]domain.TickerCandidate{exactXOM()}, false, windows)
		assert.Equal(t, first, again)
	}
}

func TestEvaluateLowConfidenceOnShortHistory(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()

	// Barely two weeks of history: far fewer than 20 baseline samples
	src.bars["XOM"] = genBars(cal, "2025-04-28", "2025-05-13", func(i int) float64 {
		return 100 + float64(i)*0.2
	})

	engine := newTestEngine(src, &fakeEvents{})
	results, failures := engine.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, []Window{{Before: 1, After: 3}})

	require.Empty(t, failures)
	require.Len(t, results, 1, "insufficient baseline never suppresses the result")
	assert.True(t, results[0].LowConfidence)
	assert.Less(t, results[0].Baseline.Samples, 20)
}

func TestEvaluateEndpointGap(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()

	bars := genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 { return 100 })
	// Drop the window end bar entirely
	var trimmed []domain.DailyBar
	for _, b := range bars {
		if b.Date != "2025-05-13" {
			trimmed = append(trimmed, b)
		}
	}
	src.bars["XOM"] = trimmed
	src.gaps["XOM"] = []string{"2025-05-13"}

	engine := newTestEngine(src, &fakeEvents{})
	results, failures := engine.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, []Window{{Before: 1, After: 3}})

	require.Empty(t, failures)
	require.Len(t, results, 1)
	assert.True(t, results[0].DataGap)
	assert.True(t, results[0].LowConfidence)
	assert.Zero(t, results[0].ObservedReturn, "the window is never silently shifted")
}

func TestEvaluateGapInsideWindow(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()

	src.bars["XOM"] = genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 { return 100 })
	src.gaps["XOM"] = []string{"2025-05-12"}

	engine := newTestEngine(src, &fakeEvents{})
	results, _ := engine.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, []Window{{Before: 1, After: 3}})

	require.Len(t, results, 1)
	assert.True(t, results[0].DataGap)
	assert.True(t, results[0].LowConfidence)
}

func TestEvaluateFailureIsolation(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()
	src.bars["XOM"] = genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 { return 100 })
	src.errs["NOPE"] = domain.ErrUnknownTicker

	engine := newTestEngine(src, &fakeEvents{})
	candidates := []domain.TickerCandidate{
		{Ticker: "NOPE", Confidence: 0.6, Method: domain.MethodFuzzy},
		exactXOM(),
	}

	results, failures := engine.Evaluate(context.Background(), energyStatement(),
		candidates, false, []Window{{Before: 1, After: 3}})

	require.Len(t, results, 1, "one poisoned ticker does not abort the batch")
	assert.Equal(t, "XOM", results[0].Ticker)
	require.Len(t, failures, 1)
	assert.Equal(t, "NOPE", failures[0].Ticker)
	assert.ErrorIs(t, failures[0].Err, domain.ErrUnknownTicker)
}

func TestEvaluateAmbiguousFlagCarried(t *testing.T) {
	cal := prices.NewCalendar()
	src := newFakePriceSource()
	src.bars["XOM"] = genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 { return 100 })

	engine := newTestEngine(src, &fakeEvents{})
	results, _ := engine.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, true, []Window{{Before: 1, After: 3}})

	require.Len(t, results, 1)
	assert.True(t, results[0].Ambiguous)
}

func TestBaselineExcludesEventAdjacentDays(t *testing.T) {
	cal := prices.NewCalendar()

	// A huge one-day spike mid-baseline. When that day is a known event the
	// exclusion keeps it out of the control distribution, so the observed
	// move scores higher against the quieter baseline.
	spikeDay := "2025-03-12"
	build := func() []domain.DailyBar {
		bars := genBars(cal, "2024-11-01", "2025-05-13", func(i int) float64 {
			return 100 + float64(i%5)*0.2
		})
		setClose(bars, spikeDay, 140)
		setClose(bars, "2025-05-09", 110.00)
		setClose(bars, "2025-05-13", 112.45)
		return bars
	}

	src := newFakePriceSource()
	src.bars["XOM"] = build()

	windows := []Window{{Before: 1, After: 3}}

	withEvent := newTestEngine(src, &fakeEvents{dates: map[string][]string{"XOM": {spikeDay}}})
	without := newTestEngine(src, &fakeEvents{})

	excluded, _ := withEvent.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, windows)
	contaminated, _ := without.Evaluate(context.Background(), energyStatement(),
		[]domain.TickerCandidate{exactXOM()}, false, windows)

	require.Len(t, excluded, 1)
	require.Len(t, contaminated, 1)
	assert.Less(t, excluded[0].Baseline.StdDev, contaminated[0].Baseline.StdDev)
	assert.Greater(t, excluded[0].Significance, contaminated[0].Significance)
}
