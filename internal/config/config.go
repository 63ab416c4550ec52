// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for all databases (always absolute)
	MarketDataURL    string // Base URL of the market-data collaborator
	MarketDataAPIKey string
	FeedPath         string // Default enriched-statement feed (JSON Lines)
	AliasTablePath   string // Optional curated entity->ticker table (JSON)
	LogLevel         string
	Port             int
	DevMode          bool

	Pipeline    PipelineConfig
	Correlation CorrelationConfig
	Backtest    BacktestConfig
}

// PipelineConfig holds batch-run tunables.
type PipelineConfig struct {
	Concurrency           int     // worker pool size for statement-level work
	DedupToleranceMinutes int     // timestamp tolerance for duplicate detection
	DedupJaccard          float64 // token-set similarity threshold
	FuzzyFloor            float64 // reject fuzzy matches below this confidence
	SectorConfidence      float64 // confidence assigned to sector-proxy candidates
	AmbiguityMargin       float64 // top-two confidence gap below which results are flagged ambiguous
}

// CorrelationConfig holds baseline and significance tunables.
type CorrelationConfig struct {
	BaselineDays          int     // control period length in trading days
	MinBaselineSamples    int     // below this the result is flagged low-confidence
	SignificanceThreshold float64 // default threshold for the batch summary and backtests
}

// BacktestConfig holds strategy defaults.
type BacktestConfig struct {
	Fraction      float64 // fixed fraction of equity per trade
	MinConfidence float64 // minimum resolution confidence to act on a signal
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("MARKETECHO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		MarketDataURL:    getEnv("MARKET_DATA_URL", "http://localhost:9000"),
		MarketDataAPIKey: getEnv("MARKET_DATA_API_KEY", ""),
		FeedPath:         getEnv("STATEMENT_FEED_PATH", ""),
		AliasTablePath:   getEnv("ALIAS_TABLE_PATH", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Port:             getEnvAsInt("PORT", 8002),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		Pipeline: PipelineConfig{
			Concurrency:           getEnvAsInt("PIPELINE_CONCURRENCY", 8),
			DedupToleranceMinutes: getEnvAsInt("DEDUP_TOLERANCE_MINUTES", 5),
			DedupJaccard:          getEnvAsFloat("DEDUP_JACCARD", 0.9),
			FuzzyFloor:            getEnvAsFloat("RESOLVER_FUZZY_FLOOR", 0.5),
			SectorConfidence:      getEnvAsFloat("RESOLVER_SECTOR_CONFIDENCE", 0.3),
			AmbiguityMargin:       getEnvAsFloat("RESOLVER_AMBIGUITY_MARGIN", 0.1),
		},
		Correlation: CorrelationConfig{
			BaselineDays:          getEnvAsInt("BASELINE_DAYS", 60),
			MinBaselineSamples:    getEnvAsInt("MIN_BASELINE_SAMPLES", 20),
			SignificanceThreshold: getEnvAsFloat("SIGNIFICANCE_THRESHOLD", 2.0),
		},
		Backtest: BacktestConfig{
			Fraction:      getEnvAsFloat("BACKTEST_FRACTION", 0.1),
			MinConfidence: getEnvAsFloat("BACKTEST_MIN_CONFIDENCE", 0.5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline concurrency must be positive, got %d", c.Pipeline.Concurrency)
	}
	if c.Pipeline.DedupJaccard < 0 || c.Pipeline.DedupJaccard > 1 {
		return fmt.Errorf("dedup jaccard threshold must be in [0,1], got %f", c.Pipeline.DedupJaccard)
	}
	if c.Pipeline.FuzzyFloor < 0 || c.Pipeline.FuzzyFloor > 1 {
		return fmt.Errorf("fuzzy floor must be in [0,1], got %f", c.Pipeline.FuzzyFloor)
	}
	if c.Pipeline.SectorConfidence < 0 || c.Pipeline.SectorConfidence > 1 {
		return fmt.Errorf("sector confidence must be in [0,1], got %f", c.Pipeline.SectorConfidence)
	}
	if c.Pipeline.AmbiguityMargin < 0 || c.Pipeline.AmbiguityMargin > 1 {
		return fmt.Errorf("ambiguity margin must be in [0,1], got %f", c.Pipeline.AmbiguityMargin)
	}
	if c.Correlation.MinBaselineSamples <= 0 {
		return fmt.Errorf("minimum baseline samples must be positive, got %d", c.Correlation.MinBaselineSamples)
	}
	if c.Correlation.BaselineDays < c.Correlation.MinBaselineSamples {
		return fmt.Errorf("baseline days (%d) must be at least the minimum baseline samples (%d)",
			c.Correlation.BaselineDays, c.Correlation.MinBaselineSamples)
	}
	if c.Backtest.Fraction <= 0 || c.Backtest.Fraction > 1 {
		return fmt.Errorf("backtest fraction must be in (0,1], got %f", c.Backtest.Fraction)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
