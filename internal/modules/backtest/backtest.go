package backtest

import (
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/marketecho/marketecho/internal/domain"
)

// Strategy configures one backtest replay.
type Strategy struct {
	ID                    string
	SignificanceThreshold float64
	MinConfidence         float64
	// Fraction of equity committed per trade.
	Fraction float64
}

// Input is everything a replay needs. Run is a pure function of this value
// so identical inputs replay to identical results.
type Input struct {
	Strategy    Strategy
	Results     []domain.CorrelationResult
	Prices      map[string]domain.PriceSeries
	Sentiments  map[string]float64 // statementID to sentiment, carries direction
	PeriodStart string
	PeriodEnd   string
}

// Backtester replays a signal derived from correlation results.
type Backtester struct {
	log zerolog.Logger
}

// New creates a backtester.
func New(log zerolog.Logger) *Backtester {
	return &Backtester{log: log.With().Str("component", "backtest").Logger()}
}

// Run replays the strategy over the period. A signal enters at the anchor
// day close, holds to the window end close, and is sized by the fixed
// fraction. While a position is open on a ticker, new signals for that
// ticker are ignored rather than compounding exposure. An empty result set
// replays to a zero-trade result, not an error.
func (b *Backtester) Run(in Input) domain.BacktestResult {
	// ComputedAt and RunID are stamped by the results store on write so the
	// replay itself stays a pure function of its inputs.
	result := domain.BacktestResult{
		StrategyID:  in.Strategy.ID,
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
	}

	signals := b.eligibleSignals(in)

	// openUntil tracks the exit date of the open position per ticker.
	openUntil := make(map[string]string)

	for _, sig := range signals {
		if until, open := openUntil[sig.Ticker]; open && sig.AnchorDate <= until {
			b.log.Debug().
				Str("ticker", sig.Ticker).
				Str("statement_id", sig.StatementID).
				Msg("Skipped overlapping signal")
			continue
		}

		series, ok := in.Prices[sig.Ticker]
		if !ok {
			continue
		}
		entry, entryOK := series.CloseOn(sig.AnchorDate)
		exit, exitOK := series.CloseOn(sig.WindowEnd)
		if !entryOK || !exitOK {
			continue
		}

		direction := 1
		if in.Sentiments[sig.StatementID] < 0 {
			direction = -1
		}

		tradeReturn := in.Strategy.Fraction * float64(direction) * (exit/entry - 1)
		result.Trades = append(result.Trades, domain.Trade{
			StatementID:  sig.StatementID,
			Ticker:       sig.Ticker,
			Direction:    direction,
			EntryDate:    sig.AnchorDate,
			ExitDate:     sig.WindowEnd,
			EntryPrice:   entry,
			ExitPrice:    exit,
			Fraction:     in.Strategy.Fraction,
			Return:       tradeReturn,
			Significance: sig.Significance,
		})

		openUntil[sig.Ticker] = sig.WindowEnd
	}

	b.aggregate(&result)
	return result
}

// eligibleSignals filters and deterministically orders the correlation
// results that qualify as entries.
func (b *Backtester) eligibleSignals(in Input) []domain.CorrelationResult {
	var signals []domain.CorrelationResult
	for _, r := range in.Results {
		if r.LowConfidence || r.DataGap {
			continue
		}
		if r.Significance < in.Strategy.SignificanceThreshold && -r.Significance < in.Strategy.SignificanceThreshold {
			continue
		}
		if r.ResolutionScore < in.Strategy.MinConfidence {
			continue
		}
		if in.PeriodStart != "" && r.AnchorDate < in.PeriodStart {
			continue
		}
		if in.PeriodEnd != "" && r.AnchorDate > in.PeriodEnd {
			continue
		}
		signals = append(signals, r)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].AnchorDate != signals[j].AnchorDate {
			return signals[i].AnchorDate < signals[j].AnchorDate
		}
		if signals[i].StatementID != signals[j].StatementID {
			return signals[i].StatementID < signals[j].StatementID
		}
		return signals[i].Ticker < signals[j].Ticker
	})

	return signals
}

func (b *Backtester) aggregate(result *domain.BacktestResult) {
	if len(result.Trades) == 0 {
		return
	}

	// Trades already close in exit-date order within a ticker; sort the
	// equity curve across tickers by exit date for drawdown computation.
	curve := make([]domain.Trade, len(result.Trades))
	copy(curve, result.Trades)
	sort.SliceStable(curve, func(i, j int) bool {
		return curve[i].ExitDate < curve[j].ExitDate
	})

	equity := 1.0
	peak := 1.0
	maxDrawdown := 0.0
	wins := 0
	returns := make([]float64, 0, len(curve))

	for _, trade := range curve {
		equity *= 1 + trade.Return
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}
		if trade.Return > 0 {
			wins++
		}
		returns = append(returns, trade.Return)
	}

	result.CumulativeReturn = equity - 1
	result.HitRate = float64(wins) / float64(len(curve))
	result.MaxDrawdown = maxDrawdown

	if len(returns) >= 2 {
		mean, std := stat.MeanStdDev(returns, nil)
		if std > 0 {
			result.SharpeRatio = mean / std
		}
	}
}
