// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"
)

// EntityKind classifies what an entity mention refers to.
type EntityKind string

const (
	EntityKindOrganization EntityKind = "organization"
	EntityKindPerson       EntityKind = "person"
	EntityKindSector       EntityKind = "sector"
)

// Valid reports whether the kind is one of the known values.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindOrganization, EntityKindPerson, EntityKindSector:
		return true
	}
	return false
}

// EntityMention is a span of text identified as referring to a real-world
// organization, person, or sector. CanonicalName is filled by the resolver.
type EntityMention struct {
	SurfaceText   string     `json:"surface_text"`
	CanonicalName string     `json:"canonical_name,omitempty"`
	Kind          EntityKind `json:"kind"`
}

// Statement is an enriched public statement produced by the upstream NLP
// collaborator. Immutable once stored.
type Statement struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Author    string          `json:"author"`
	Timestamp time.Time       `json:"timestamp_utc"`
	Text      string          `json:"text"`
	Entities  []EntityMention `json:"entities"`
	Sentiment float64         `json:"sentiment"` // [-1, 1], sign carries direction
	Topic     string          `json:"topic,omitempty"`
}

// ResolutionMethod identifies how an entity was mapped to a ticker.
type ResolutionMethod string

const (
	MethodExact       ResolutionMethod = "exact"
	MethodFuzzy       ResolutionMethod = "fuzzy"
	MethodSectorProxy ResolutionMethod = "sector-proxy"
)

// TickerCandidate is one possible ticker for an entity mention.
// Each candidate is scored independently; confidence is always in [0, 1].
type TickerCandidate struct {
	Ticker     string           `json:"ticker"`
	Confidence float64          `json:"confidence"`
	Method     ResolutionMethod `json:"method"`
}

// DailyBar is a single daily OHLCV price point. Date is "YYYY-MM-DD".
type DailyBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume *int64  `json:"volume,omitempty"`
}

// PriceSeries holds bars for a ticker, strictly increasing by date.
// Gaps lists trading days inside the covered range with no bar; they are
// surfaced explicitly rather than interpolated.
type PriceSeries struct {
	Ticker string     `json:"ticker"`
	Bars   []DailyBar `json:"bars"`
	Gaps   []string   `json:"gaps,omitempty"`
}

// CloseOn returns the closing price on the given date.
func (s *PriceSeries) CloseOn(date string) (float64, bool) {
	for i := range s.Bars {
		if s.Bars[i].Date == date {
			return s.Bars[i].Close, true
		}
	}
	return 0, false
}

// BaselineStats summarizes the baseline return distribution. Raw samples are
// not retained long-term; only summary statistics are persisted.
type BaselineStats struct {
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Samples int     `json:"samples"`
}

// CorrelationResult links one statement to one ticker over one window pair.
// Immutable once computed; keyed by (StatementID, Ticker, WindowAfterDays).
// A recomputation is a new version, not an update.
type CorrelationResult struct {
	StatementID        string        `json:"statement_id"`
	Ticker             string        `json:"ticker"`
	WindowBeforeDays   int           `json:"window_before_days"`
	WindowAfterDays    int           `json:"window_after_days"`
	AnchorDate         string        `json:"anchor_date"` // day0, first trading day on/after the statement
	WindowStart        string        `json:"window_start"`
	WindowEnd          string        `json:"window_end"`
	ObservedReturn     float64       `json:"observed_return"`
	Baseline           BaselineStats `json:"baseline"`
	Significance       float64       `json:"significance"`
	DirectionAgreement bool          `json:"direction_agreement"`
	ResolutionMethod   ResolutionMethod `json:"resolution_method"`
	ResolutionScore    float64       `json:"resolution_score"`
	LowConfidence      bool          `json:"low_confidence"`
	Ambiguous          bool          `json:"ambiguous"`
	DataGap            bool          `json:"data_gap"`
	Version            string        `json:"version"`
	ComputedAt         time.Time     `json:"computed_at"`
}

// Key returns the logical identity of the result. Recomputation overwrites
// by key rather than duplicating.
func (r *CorrelationResult) Key() string {
	return fmt.Sprintf("%s|%s|%d", r.StatementID, r.Ticker, r.WindowAfterDays)
}

// Trade is a single simulated trade produced by the backtester.
type Trade struct {
	StatementID  string  `json:"statement_id"`
	Ticker       string  `json:"ticker"`
	Direction    int     `json:"direction"` // +1 long, -1 short
	EntryDate    string  `json:"entry_date"`
	ExitDate     string  `json:"exit_date"`
	EntryPrice   float64 `json:"entry_price"`
	ExitPrice    float64 `json:"exit_price"`
	Fraction     float64 `json:"fraction"` // fraction of equity committed
	Return       float64 `json:"return"`   // signed, fraction-weighted
	Significance float64 `json:"significance"`
}

// BacktestResult reports a full strategy replay over a period.
type BacktestResult struct {
	StrategyID       string    `json:"strategy_id"`
	RunID            string    `json:"run_id"`
	PeriodStart      string    `json:"period_start"`
	PeriodEnd        string    `json:"period_end"`
	Trades           []Trade   `json:"trades"`
	CumulativeReturn float64   `json:"cumulative_return"`
	HitRate          float64   `json:"hit_rate"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	ComputedAt       time.Time `json:"computed_at"`
}
