package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/config"
	"github.com/marketecho/marketecho/internal/domain"
	"github.com/marketecho/marketecho/internal/modules/backtest"
	"github.com/marketecho/marketecho/internal/modules/correlation"
	"github.com/marketecho/marketecho/internal/modules/dedup"
	"github.com/marketecho/marketecho/internal/modules/prices"
	"github.com/marketecho/marketecho/internal/modules/resolver"
	"github.com/marketecho/marketecho/internal/modules/results"
	"github.com/marketecho/marketecho/internal/modules/statements"
	"github.com/marketecho/marketecho/internal/utils"
	"github.com/marketecho/marketecho/internal/workers"
)

const checkpointName = "last_processed_ts"

// Summary is the outcome of one batch run. Every dropped or failed item is
// counted somewhere; nothing disappears silently.
type Summary struct {
	RunID          string         `json:"run_id"`
	Processed      int            `json:"processed"`
	Rejected       int            `json:"rejected"`
	Deduplicated   int            `json:"deduplicated"`
	Resolved       int            `json:"resolved"`
	Unresolved     int            `json:"unresolved"`
	ResultsStored  int            `json:"results_stored"`
	LowConfidence  int            `json:"low_confidence"`
	Ambiguous      int            `json:"ambiguous"`
	DataGaps       int            `json:"data_gaps"`
	Requeued       int            `json:"requeued"`
	FailuresByKind map[string]int `json:"failures_by_kind"`
}

// Pipeline wires the full batch flow: feed, dedup, resolution, correlation
// and persistence.
type Pipeline struct {
	cfg        *config.Config
	feed       *statements.Reader
	stmtRepo   *statements.Repository
	deduper    *dedup.Deduplicator
	resolve    *resolver.Resolver
	cache      *prices.Cache
	engine     *correlation.Engine
	backtester *backtest.Backtester
	resultRepo *results.Repository
	cal        *prices.Calendar
	log        zerolog.Logger
}

// NewPipeline creates a pipeline over already-constructed components.
func NewPipeline(
	cfg *config.Config,
	feed *statements.Reader,
	stmtRepo *statements.Repository,
	deduper *dedup.Deduplicator,
	resolve *resolver.Resolver,
	cache *prices.Cache,
	engine *correlation.Engine,
	backtester *backtest.Backtester,
	resultRepo *results.Repository,
	cal *prices.Calendar,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		feed:       feed,
		stmtRepo:   stmtRepo,
		deduper:    deduper,
		resolve:    resolve,
		cache:      cache,
		engine:     engine,
		backtester: backtester,
		resultRepo: resultRepo,
		cal:        cal,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// Options configures one run.
type Options struct {
	FeedPath string
	From     time.Time // zero means resume from the checkpoint
	To       time.Time // zero means now
	Windows  []correlation.Window
}

// Run executes one batch. Per-statement and per-ticker failures are isolated
// and counted; the returned error is reserved for unrecoverable conditions
// such as the market-data collaborator being unreachable for the whole run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Summary, error) {
	runID := uuid.NewString()
	summary := Summary{
		RunID:          runID,
		FailuresByKind: make(map[string]int),
	}

	startedAt := time.Now().UTC()
	if err := p.resultRepo.StartRun(runID, startedAt); err != nil {
		return summary, fmt.Errorf("failed to record run: %w", err)
	}

	p.log.Info().Str("run_id", runID).Msg("Starting batch run")

	if opts.FeedPath != "" {
		if err := p.ingest(opts.FeedPath, &summary); err != nil {
			return summary, err
		}
	}

	from, to, err := p.batchBounds(opts)
	if err != nil {
		return summary, err
	}

	batch, err := p.stmtRepo.ListBetween(from, to)
	if err != nil {
		return summary, fmt.Errorf("failed to load batch: %w", err)
	}

	p.recordEvents(batch, &summary)

	windows := opts.Windows
	if len(windows) == 0 {
		windows = []correlation.Window{{Before: 1, After: 3}}
	}

	outcomes, processed := workers.Map(ctx, p.cfg.Pipeline.Concurrency, batch,
		func(ctx context.Context, stmt domain.Statement) statementOutcome {
			return p.processStatement(ctx, stmt, windows)
		})

	var stored []domain.CorrelationResult
	requeueFrom := time.Time{}
	// The pool schedules statements in batch order, so a cancelled run
	// leaves exactly the prefix outcomes[:processed] populated.
	for i, outcome := range outcomes[:processed] {
		summary.Processed++
		summary.Resolved += outcome.resolved
		summary.Unresolved += outcome.unresolved

		for _, result := range outcome.results {
			if result.LowConfidence {
				summary.LowConfidence++
			}
			if result.Ambiguous {
				summary.Ambiguous++
			}
			if result.DataGap {
				summary.DataGaps++
			}
			stored = append(stored, result)
		}

		retryable := false
		for _, failure := range outcome.failures {
			summary.FailuresByKind[failureKind(failure.Err)]++
			if domain.Retryable(failure.Err) || errors.Is(failure.Err, context.Canceled) {
				retryable = true
			}
		}
		if retryable {
			summary.Requeued++
			if requeueFrom.IsZero() || batch[i].Timestamp.Before(requeueFrom) {
				requeueFrom = batch[i].Timestamp
			}
		}
	}

	// Statements the pool never scheduled are requeued so the checkpoint
	// stops before them instead of silently dropping them.
	if skipped := len(batch) - processed; skipped > 0 {
		summary.Requeued += skipped
		summary.FailuresByKind["cancelled"] += skipped
		if requeueFrom.IsZero() || batch[processed].Timestamp.Before(requeueFrom) {
			requeueFrom = batch[processed].Timestamp
		}
		p.log.Warn().Int("skipped", skipped).Msg("Run cancelled before batch completed")
	}

	if err := p.resultRepo.PutAll(stored); err != nil {
		return summary, fmt.Errorf("failed to store results: %w", err)
	}
	summary.ResultsStored = len(stored)

	// The collaborator being down for everything we attempted is the one
	// condition that fails the whole run.
	if summary.FailuresByKind["unavailable"] > 0 && summary.ResultsStored == 0 && len(batch) > 0 {
		return summary, fmt.Errorf("market data collaborator unreachable: %w", domain.ErrUnavailable)
	}

	p.advanceCheckpoint(batch, requeueFrom, to, &summary)

	if err := p.resultRepo.FinishRun(runID, time.Now().UTC(), summary); err != nil {
		p.log.Error().Err(err).Msg("Failed to record run summary")
	}

	p.log.Info().
		Str("run_id", runID).
		Int("processed", summary.Processed).
		Int("results", summary.ResultsStored).
		Int("requeued", summary.Requeued).
		Msg("Batch run finished")

	return summary, nil
}

// ingest reads the feed, collapses duplicates within the batch and against
// recent history, and persists the accepted statements.
func (p *Pipeline) ingest(feedPath string, summary *Summary) error {
	feed, err := p.feed.ReadFile(feedPath)
	if err != nil {
		return fmt.Errorf("failed to read feed: %w", err)
	}
	summary.Rejected += feed.Rejected

	survivors, collapsed := p.deduper.Collapse(feed.Statements)

	// Check survivors against statements already stored from earlier runs.
	// A failed lookup fails closed: the statement is treated as new rather
	// than stalling ingestion.
	tolerance := time.Duration(p.cfg.Pipeline.DedupToleranceMinutes) * time.Minute
	var fresh []domain.Statement
	for _, stmt := range survivors {
		recent, err := p.stmtRepo.RecentByAuthor(stmt.Author, stmt.Timestamp.Add(tolerance), 2*tolerance)
		if err != nil {
			p.log.Warn().Err(err).Str("statement_id", stmt.ID).Msg("Dedup lookup failed, treating as new")
			summary.FailuresByKind["dedup_lookup"]++
			fresh = append(fresh, stmt)
			continue
		}
		if dup, matchedID := p.deduper.IsDuplicate(stmt, recent); dup {
			collapsed[stmt.ID] = matchedID
			continue
		}
		fresh = append(fresh, stmt)
	}

	summary.Deduplicated += len(collapsed)

	all := append(fresh, duplicates(feed.Statements, collapsed)...)
	if err := p.stmtRepo.Insert(all, collapsed); err != nil {
		return fmt.Errorf("failed to persist statements: %w", err)
	}

	return nil
}

// duplicates returns the collapsed statements so they are stored for audit.
func duplicates(all []domain.Statement, collapsed map[string]string) []domain.Statement {
	var dups []domain.Statement
	for _, stmt := range all {
		if _, ok := collapsed[stmt.ID]; ok {
			dups = append(dups, stmt)
		}
	}
	return dups
}

func (p *Pipeline) batchBounds(opts Options) (time.Time, time.Time, error) {
	from := opts.From
	if from.IsZero() {
		checkpoint, err := p.stmtRepo.Checkpoint(checkpointName)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("failed to read checkpoint: %w", err)
		}
		from = time.Unix(checkpoint, 0).UTC()
		if checkpoint > 0 {
			from = from.Add(time.Second)
		}
	}

	to := opts.To
	if to.IsZero() {
		to = time.Now().UTC()
	}

	return from, to, nil
}

// recordEvents registers every (ticker, anchor date) pair for the batch
// before evaluation so baseline sampling sees the full event calendar.
func (p *Pipeline) recordEvents(batch []domain.Statement, summary *Summary) {
	for _, stmt := range batch {
		date := utils.FormatDate(stmt.Timestamp.UTC())
		anchor := p.cal.NextTradingDay(date)
		for _, ticker := range p.candidateTickers(stmt) {
			if err := p.stmtRepo.RecordEvent(ticker, anchor, stmt.ID); err != nil {
				p.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to record event date")
				summary.FailuresByKind["event_record"]++
			}
		}
	}
}

func (p *Pipeline) candidateTickers(stmt domain.Statement) []string {
	seen := make(map[string]bool)
	var tickers []string
	for _, entity := range stmt.Entities {
		for _, candidate := range p.resolve.Resolve(entity, stmt.Text) {
			if !seen[candidate.Ticker] {
				seen[candidate.Ticker] = true
				tickers = append(tickers, candidate.Ticker)
			}
		}
	}
	sort.Strings(tickers)
	return tickers
}

type statementOutcome struct {
	resolved   int
	unresolved int
	results    []domain.CorrelationResult
	failures   []correlation.Failure
}

func (p *Pipeline) processStatement(ctx context.Context, stmt domain.Statement, windows []correlation.Window) statementOutcome {
	var outcome statementOutcome

	for _, entity := range stmt.Entities {
		candidates := p.resolve.Resolve(entity, stmt.Text)
		if len(candidates) == 0 {
			outcome.unresolved++
			p.log.Debug().
				Str("statement_id", stmt.ID).
				Str("surface", entity.SurfaceText).
				Msg("Entity did not resolve")
			continue
		}
		outcome.resolved++

		ambiguous := resolver.Ambiguous(candidates, p.cfg.Pipeline.AmbiguityMargin)
		results, failures := p.engine.Evaluate(ctx, stmt, candidates, ambiguous, windows)
		outcome.results = append(outcome.results, results...)
		outcome.failures = append(outcome.failures, failures...)
	}

	return outcome
}

// advanceCheckpoint moves the checkpoint past fully processed statements.
// When a statement had retryable failures the checkpoint stops just before
// it, so the next run picks it up again.
func (p *Pipeline) advanceCheckpoint(batch []domain.Statement, requeueFrom, to time.Time, summary *Summary) {
	if len(batch) == 0 {
		return
	}

	checkpoint := to.Unix()
	if !requeueFrom.IsZero() {
		checkpoint = requeueFrom.Unix() - 1
	}

	if err := p.stmtRepo.SetCheckpoint(checkpointName, checkpoint); err != nil {
		p.log.Error().Err(err).Msg("Failed to advance checkpoint")
		summary.FailuresByKind["checkpoint"]++
	}
}

// Backtest replays the configured strategy over the latest stored results.
func (p *Pipeline) Backtest(ctx context.Context, runID string, threshold float64, periodStart, periodEnd string) (domain.BacktestResult, error) {
	latest, err := p.resultRepo.Latest(10000)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("failed to load results: %w", err)
	}

	// A window anchored late in the period can close after periodEnd.
	// Extend each ticker's price fetch to its latest such window end so
	// those trades still find an exit close.
	fetchEnd := make(map[string]string)
	for _, r := range latest {
		if r.WindowEnd == "" || r.AnchorDate < periodStart || r.AnchorDate > periodEnd {
			continue
		}
		if end, ok := fetchEnd[r.Ticker]; !ok || r.WindowEnd > end {
			fetchEnd[r.Ticker] = r.WindowEnd
		}
	}

	priceMap := make(map[string]domain.PriceSeries)
	sentiments := make(map[string]float64)
	for _, r := range latest {
		if _, ok := priceMap[r.Ticker]; !ok && r.WindowStart != "" && r.WindowEnd != "" {
			end := periodEnd
			if w := fetchEnd[r.Ticker]; w > end {
				end = w
			}
			series, err := p.cache.Get(ctx, r.Ticker, periodStart, end)
			if err != nil {
				if errors.Is(err, domain.ErrNoData) || errors.Is(err, domain.ErrUnknownTicker) {
					continue
				}
				return domain.BacktestResult{}, fmt.Errorf("failed to load prices for %s: %w", r.Ticker, err)
			}
			priceMap[r.Ticker] = series
		}
		if _, ok := sentiments[r.StatementID]; !ok {
			sentiments[r.StatementID] = sentimentSign(r)
		}
	}

	result := p.backtester.Run(backtest.Input{
		Strategy: backtest.Strategy{
			ID:                    fmt.Sprintf("zscore-%.1f", threshold),
			SignificanceThreshold: threshold,
			MinConfidence:         p.cfg.Backtest.MinConfidence,
			Fraction:              p.cfg.Backtest.Fraction,
		},
		Results:     latest,
		Prices:      priceMap,
		Sentiments:  sentiments,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})

	if err := p.resultRepo.PutBacktest(result, runID); err != nil {
		return result, fmt.Errorf("failed to store backtest result: %w", err)
	}

	return result, nil
}

// sentimentSign recovers trade direction from a stored result: when the
// realized direction agreed with the statement the observed sign is the
// sentiment sign, otherwise it is the opposite.
func sentimentSign(r domain.CorrelationResult) float64 {
	sign := 1.0
	if r.ObservedReturn < 0 {
		sign = -1.0
	}
	if !r.DirectionAgreement {
		sign = -sign
	}
	return sign
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrUnknownTicker):
		return "unknown_ticker"
	case errors.Is(err, domain.ErrNoData):
		return "no_data"
	case domain.IsInvariantViolation(err):
		return "invariant_violation"
	default:
		return "other"
	}
}
