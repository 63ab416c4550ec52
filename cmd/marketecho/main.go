// Package main is the entry point for the MarketEcho event correlation engine.
// It links public statements by influential figures to subsequent stock-price
// movements: statements are ingested from an enriched feed, deduplicated,
// resolved to tickers, and evaluated against daily price series; results and
// backtests are stored immutably and served over a read-only HTTP API.
//
// The binary runs in two modes:
//   - batch (default): process one statement batch and exit
//   - serve: run the HTTP API plus scheduled batch, backup and maintenance jobs
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/clients/marketdata"
	"github.com/marketecho/marketecho/internal/config"
	"github.com/marketecho/marketecho/internal/database"
	"github.com/marketecho/marketecho/internal/modules/backtest"
	"github.com/marketecho/marketecho/internal/modules/correlation"
	"github.com/marketecho/marketecho/internal/modules/dedup"
	"github.com/marketecho/marketecho/internal/modules/prices"
	"github.com/marketecho/marketecho/internal/modules/resolver"
	"github.com/marketecho/marketecho/internal/modules/results"
	"github.com/marketecho/marketecho/internal/modules/statements"
	"github.com/marketecho/marketecho/internal/reliability"
	"github.com/marketecho/marketecho/internal/run"
	"github.com/marketecho/marketecho/internal/scheduler"
	"github.com/marketecho/marketecho/internal/server"
	"github.com/marketecho/marketecho/pkg/logger"
)

func main() {
	var (
		feedPath    = flag.String("feed", "", "enriched statement feed (JSON Lines); defaults to STATEMENT_FEED_PATH")
		fromStr     = flag.String("from", "", "batch start (RFC 3339); empty resumes from the checkpoint")
		toStr       = flag.String("to", "", "batch end (RFC 3339); empty means now")
		windowsStr  = flag.String("windows", "1:3", "event windows as before:after day pairs, e.g. 1:3,1:5")
		runBacktest = flag.Bool("backtest", false, "run a backtest over stored results after the batch")
		threshold   = flag.Float64("threshold", 0, "significance threshold for backtests; 0 uses SIGNIFICANCE_THRESHOLD")
		periodStart = flag.String("period-start", "", "backtest period start (YYYY-MM-DD)")
		periodEnd   = flag.String("period-end", "", "backtest period end (YYYY-MM-DD)")
		serve       = flag.Bool("serve", false, "run the HTTP API and scheduled jobs instead of a single batch")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting MarketEcho")

	app, err := wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer app.Close()

	if *serve {
		if err := runServe(app, cfg, log); err != nil {
			log.Fatal().Err(err).Msg("Serve mode failed")
		}
		return
	}

	opts, err := buildOptions(cfg, *feedPath, *fromStr, *toStr, *windowsStr)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid batch options")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := app.Pipeline.Run(ctx, opts)
	app.saveSnapshot(log)
	if err != nil {
		log.Error().Err(err).Msg("Batch run failed")
		os.Exit(1)
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int("processed", summary.Processed).
		Int("results_stored", summary.ResultsStored).
		Int("requeued", summary.Requeued).
		Msg("Batch run completed")

	if *runBacktest {
		start, end := *periodStart, *periodEnd
		if start == "" || end == "" {
			log.Fatal().Msg("Backtest requires -period-start and -period-end")
		}

		sig := *threshold
		if sig == 0 {
			sig = cfg.Correlation.SignificanceThreshold
		}

		result, err := app.Pipeline.Backtest(ctx, summary.RunID, sig, start, end)
		if err != nil {
			log.Error().Err(err).Msg("Backtest failed")
			os.Exit(1)
		}

		log.Info().
			Str("strategy_id", result.StrategyID).
			Int("trades", len(result.Trades)).
			Float64("cumulative_return", result.CumulativeReturn).
			Float64("hit_rate", result.HitRate).
			Float64("sharpe_ratio", result.SharpeRatio).
			Msg("Backtest completed")
	}
}

// app holds the wired components and their databases.
type app struct {
	Pipeline  *run.Pipeline
	Results   *results.Repository
	Cache     *prices.Cache
	Databases map[string]*database.DB
	DataDir   string
}

// wire opens the databases and builds the processing pipeline.
func wire(cfg *config.Config, log zerolog.Logger) (*app, error) {
	databases := make(map[string]*database.DB)
	open := func(name string, profile database.DatabaseProfile) (*database.DB, error) {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", name, err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
		}
		databases[name] = db
		return db, nil
	}

	stmtDB, err := open("statements", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	priceDB, err := open("prices", database.ProfileCache)
	if err != nil {
		return nil, err
	}
	resultDB, err := open("results", database.ProfileResults)
	if err != nil {
		return nil, err
	}

	cal := prices.NewCalendar()

	stmtRepo := statements.NewRepository(stmtDB.Conn(), log)
	priceRepo := prices.NewRepository(priceDB.Conn(), log)
	resultRepo := results.NewRepository(resultDB.Conn(), log)

	fetcher := marketdata.NewClient(cfg.MarketDataURL, cfg.MarketDataAPIKey, log)
	cache := prices.NewCache(priceRepo, fetcher, cal, prices.NewValidator(log), log)

	snapshotPath := cacheSnapshotPath(cfg.DataDir)
	if err := cache.Restore(snapshotPath); err != nil {
		log.Warn().Err(err).Str("path", snapshotPath).Msg("Failed to restore price cache snapshot")
	}

	engine := correlation.NewEngine(cache, stmtRepo, correlation.NewZScoreScorer(), cal,
		correlation.Config{
			BaselineDays: cfg.Correlation.BaselineDays,
			MinSamples:   cfg.Correlation.MinBaselineSamples,
		}, log)

	tables := resolver.DefaultTables()
	if cfg.AliasTablePath != "" {
		tables, err = resolver.LoadTables(cfg.AliasTablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load alias table: %w", err)
		}
	}
	res := resolver.New(tables, cfg.Pipeline.FuzzyFloor, cfg.Pipeline.SectorConfidence, log)
	deduper := dedup.New(cfg.Pipeline.DedupToleranceMinutes, cfg.Pipeline.DedupJaccard, log)

	pipeline := run.NewPipeline(cfg, statements.NewReader(log), stmtRepo, deduper, res,
		cache, engine, backtest.New(log), resultRepo, cal, log)

	return &app{
		Pipeline:  pipeline,
		Results:   resultRepo,
		Cache:     cache,
		Databases: databases,
		DataDir:   cfg.DataDir,
	}, nil
}

// Close closes all databases.
func (a *app) Close() {
	for _, db := range a.Databases {
		_ = db.Close()
	}
}

func (a *app) saveSnapshot(log zerolog.Logger) {
	path := cacheSnapshotPath(a.DataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Warn().Err(err).Msg("Failed to create snapshot directory")
		return
	}
	if err := a.Cache.Snapshot(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save price cache snapshot")
	}
}

func cacheSnapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "snapshots", "prices.msgpack")
}

// buildOptions turns flags into batch run options.
func buildOptions(cfg *config.Config, feedPath, fromStr, toStr, windowsStr string) (run.Options, error) {
	opts := run.Options{FeedPath: feedPath}
	if opts.FeedPath == "" {
		opts.FeedPath = cfg.FeedPath
	}

	if fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return opts, fmt.Errorf("invalid -from: %w", err)
		}
		opts.From = from
	}
	if toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return opts, fmt.Errorf("invalid -to: %w", err)
		}
		opts.To = to
	}

	windows, err := parseWindows(windowsStr)
	if err != nil {
		return opts, err
	}
	opts.Windows = windows

	return opts, nil
}

// parseWindows parses "1:3,1:5" into event windows.
func parseWindows(s string) ([]correlation.Window, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	windows := make([]correlation.Window, 0, len(parts))
	for _, part := range parts {
		ba := strings.Split(strings.TrimSpace(part), ":")
		if len(ba) != 2 {
			return nil, fmt.Errorf("invalid window %q, want before:after", part)
		}
		before, err := strconv.Atoi(ba[0])
		if err != nil || before < 0 {
			return nil, fmt.Errorf("invalid window %q, bad before-days", part)
		}
		after, err := strconv.Atoi(ba[1])
		if err != nil || after <= 0 {
			return nil, fmt.Errorf("invalid window %q, bad after-days", part)
		}
		windows = append(windows, correlation.Window{Before: before, After: after})
	}
	return windows, nil
}

// runServe runs the HTTP API alongside the scheduled batch, backup and
// maintenance jobs until interrupted.
func runServe(a *app, cfg *config.Config, log zerolog.Logger) error {
	srv := server.New(server.Config{
		Log:     log,
		Results: a.Results,
		DataDir: cfg.DataDir,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	backupSvc := reliability.NewBackupService(a.Databases, filepath.Join(cfg.DataDir, "backups"), log)
	maintenance := reliability.NewMaintenanceJob(a.Databases, log)

	sched := scheduler.New(log)

	// Weekday evening batch, after US market close
	if err := sched.Add("30 22 * * 1-5", "batch_run", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		summary, err := a.Pipeline.Run(ctx, run.Options{FeedPath: cfg.FeedPath})
		a.saveSnapshot(log)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled batch run failed")
			return
		}
		log.Info().
			Str("run_id", summary.RunID).
			Int("results_stored", summary.ResultsStored).
			Msg("Scheduled batch run completed")
	}); err != nil {
		return err
	}

	if err := sched.Add("0 2 * * *", "backup", func() {
		if err := backupSvc.CreateBackup(); err != nil {
			log.Error().Err(err).Msg("Scheduled backup failed")
			return
		}
		if err := backupSvc.RotateOldBackups(30); err != nil {
			log.Error().Err(err).Msg("Backup rotation failed")
		}
	}); err != nil {
		return err
	}

	if err := sched.Add("0 3 * * 0", "maintenance", func() {
		if err := maintenance.Run(); err != nil {
			log.Error().Err(err).Msg("Scheduled maintenance failed")
		}
	}); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	a.saveSnapshot(log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
