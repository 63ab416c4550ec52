package backtest

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketecho/marketecho/internal/domain"
)

func defaultStrategy() Strategy {
	return Strategy{
		ID:                    "zscore-2.0",
		SignificanceThreshold: 2.0,
		MinConfidence:         0.5,
		Fraction:              0.1,
	}
}

func signal(stmtID, ticker, anchor, end string, significance, confidence float64) domain.CorrelationResult {
	return domain.CorrelationResult{
		StatementID:     stmtID,
		Ticker:          ticker,
		AnchorDate:      anchor,
		WindowEnd:       end,
		Significance:    significance,
		ResolutionScore: confidence,
		WindowAfterDays: 3,
	}
}

func seriesWith(ticker string, closes map[string]float64) domain.PriceSeries {
	var bars []domain.DailyBar
	for date, c := range closes {
		bars = append(bars, domain.DailyBar{Date: date, Open: c, High: c, Low: c, Close: c})
	}
	return domain.PriceSeries{Ticker: ticker, Bars: bars}
}

func TestRunEmptyInput(t *testing.T) {
	b := New(zerolog.Nop())

	result := b.Run(Input{Strategy: defaultStrategy(), PeriodStart: "2025-01-01", PeriodEnd: "2025-12-31"})
	assert.Empty(t, result.Trades)
	assert.Zero(t, result.CumulativeReturn)
	assert.Zero(t, result.HitRate)
	assert.Zero(t, result.MaxDrawdown)
	assert.Equal(t, "zscore-2.0", result.StrategyID)
}

func TestRunSingleTrade(t *testing.T) {
	b := New(zerolog.Nop())

	in := Input{
		Strategy: defaultStrategy(),
		Results:  []domain.CorrelationResult{signal("s1", "XOM", "2025-05-12", "2025-05-13", 2.13, 1.0)},
		Prices: map[string]domain.PriceSeries{
			"XOM": seriesWith("XOM", map[string]float64{"2025-05-12": 111.20, "2025-05-13": 112.45}),
		},
		Sentiments: map[string]float64{"s1": 0.8},
	}

	result := b.Run(in)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, 1, trade.Direction)
	assert.Equal(t, 111.20, trade.EntryPrice)
	assert.Equal(t, 112.45, trade.ExitPrice)
	assert.InDelta(t, 0.1*(112.45/111.20-1), trade.Return, 1e-12)
	assert.InDelta(t, trade.Return, result.CumulativeReturn, 1e-12)
	assert.Equal(t, 1.0, result.HitRate)
}

func TestRunShortOnNegativeSentiment(t *testing.T) {
	b := New(zerolog.Nop())

	in := Input{
		Strategy: defaultStrategy(),
		Results:  []domain.CorrelationResult{signal("s1", "XOM", "2025-05-12", "2025-05-13", -2.4, 1.0)},
		Prices: map[string]domain.PriceSeries{
			"XOM": seriesWith("XOM", map[string]float64{"2025-05-12": 100, "2025-05-13": 95}),
		},
		Sentiments: map[string]float64{"s1": -0.7},
	}

	result := b.Run(in)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, -1, result.Trades[0].Direction)
	assert.InDelta(t, 0.1*0.05, result.Trades[0].Return, 1e-12, "a short profits from the drop")
}

func TestRunFiltersSignals(t *testing.T) {
	b := New(zerolog.Nop())
	prices := map[string]domain.PriceSeries{
		"XOM": seriesWith("XOM", map[string]float64{"2025-05-12": 100, "2025-05-13": 101}),
	}

	lowSig := signal("s1", "XOM", "2025-05-12", "2025-05-13", 1.2, 1.0)
	lowConf := signal("s2", "XOM", "2025-05-12", "2025-05-13", 2.5, 0.3)
	flagged := signal("s3", "XOM", "2025-05-12", "2025-05-13", 2.5, 1.0)
	flagged.LowConfidence = true
	gapped := signal("s4", "XOM", "2025-05-12", "2025-05-13", 2.5, 1.0)
	gapped.DataGap = true
	outside := signal("s5", "XOM", "2025-06-20", "2025-06-25", 2.5, 1.0)

	in := Input{
		Strategy:    defaultStrategy(),
		Results:     []domain.CorrelationResult{lowSig, lowConf, flagged, gapped, outside},
		Prices:      prices,
		Sentiments:  map[string]float64{"s1": 1, "s2": 1, "s3": 1, "s4": 1, "s5": 1},
		PeriodStart: "2025-05-01",
		PeriodEnd:   "2025-05-31",
	}

	result := b.Run(in)
	assert.Empty(t, result.Trades)
}

func TestRunIgnoresOverlappingEntries(t *testing.T) {
	b := New(zerolog.Nop())

	in := Input{
		Strategy: defaultStrategy(),
		Results: []domain.CorrelationResult{
			signal("s1", "XOM", "2025-05-12", "2025-05-15", 2.5, 1.0),
			// Fires while the first position is still open
			signal("s2", "XOM", "2025-05-13", "2025-05-16", 3.0, 1.0),
			// Fires after the first position closed
			signal("s3", "XOM", "2025-05-16", "2025-05-19", 2.2, 1.0),
		},
		Prices: map[string]domain.PriceSeries{
			"XOM": seriesWith("XOM", map[string]float64{
				"2025-05-12": 100, "2025-05-13": 101, "2025-05-15": 103,
				"2025-05-16": 104, "2025-05-19": 106,
			}),
		},
		Sentiments: map[string]float64{"s1": 1, "s2": 1, "s3": 1},
	}

	result := b.Run(in)
	require.Len(t, result.Trades, 2)
	assert.Equal(t, "s1", result.Trades[0].StatementID)
	assert.Equal(t, "s3", result.Trades[1].StatementID)
}

func TestRunDeterministicOrdering(t *testing.T) {
	b := New(zerolog.Nop())

	sigs := []domain.CorrelationResult{
		signal("s2", "CVX", "2025-05-12", "2025-05-13", 2.5, 1.0),
		signal("s1", "XOM", "2025-05-12", "2025-05-13", 2.5, 1.0),
	}
	reversed := []domain.CorrelationResult{sigs[1], sigs[0]}

	prices := map[string]domain.PriceSeries{
		"XOM": seriesWith("XOM", map[string]float64{"2025-05-12": 100, "2025-05-13": 101}),
		"CVX": seriesWith("CVX", map[string]float64{"2025-05-12": 150, "2025-05-13": 151}),
	}
	sentiments := map[string]float64{"s1": 1, "s2": 1}

	first := b.Run(Input{Strategy: defaultStrategy(), Results: sigs, Prices: prices, Sentiments: sentiments})
	second := b.Run(Input{Strategy: defaultStrategy(), Results: reversed, Prices: prices, Sentiments: sentiments})
	assert.Equal(t, first, second, "input order never changes the replay")
}

func TestRunAggregateMetrics(t *testing.T) {
	b := New(zerolog.Nop())

	in := Input{
		Strategy: Strategy{ID: "agg", SignificanceThreshold: 2.0, MinConfidence: 0.5, Fraction: 1.0},
		Results: []domain.CorrelationResult{
			signal("s1", "XOM", "2025-05-12", "2025-05-13", 2.5, 1.0),
			signal("s2", "CVX", "2025-05-14", "2025-05-15", 2.5, 1.0),
		},
		Prices: map[string]domain.PriceSeries{
			// +10% then the other ticker loses 5%
			"XOM": seriesWith("XOM", map[string]float64{"2025-05-12": 100, "2025-05-13": 110}),
			"CVX": seriesWith("CVX", map[string]float64{"2025-05-14": 100, "2025-05-15": 95}),
		},
		Sentiments: map[string]float64{"s1": 1, "s2": 1},
	}

	result := b.Run(in)
	require.Len(t, result.Trades, 2)
	assert.InDelta(t, 1.10*0.95-1, result.CumulativeReturn, 1e-12)
	assert.InDelta(t, 0.5, result.HitRate, 1e-12)
	assert.InDelta(t, 0.05, result.MaxDrawdown, 1e-12)
	assert.NotZero(t, result.SharpeRatio)
}

func TestRunSkipsMissingPrices(t *testing.T) {
	b := New(zerolog.Nop())

	in := Input{
		Strategy:   defaultStrategy(),
		Results:    []domain.CorrelationResult{signal("s1", "XOM", "2025-05-12", "2025-05-13", 2.5, 1.0)},
		Prices:     map[string]domain.PriceSeries{},
		Sentiments: map[string]float64{"s1": 1},
	}

	result := b.Run(in)
	assert.Empty(t, result.Trades)
}
