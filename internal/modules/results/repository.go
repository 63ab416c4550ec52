package results

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

// Repository is the persistence collaborator for correlation and backtest
// results. Rows are written once and never updated: a recomputation inserts
// a new version under the same key and reads return the latest, which gives
// last-write-wins semantics while preserving the full audit trail.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new results repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "results_repository").Logger(),
	}
}

// Put stores a correlation result as a new version. The version id and
// computation timestamp are stamped here so the engine output stays
// deterministic.
func (r *Repository) Put(result domain.CorrelationResult) error {
	result.Version = uuid.NewString()
	result.ComputedAt = time.Now().UTC()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO correlation_results (key, version, computed_at, payload)
		VALUES (?, ?, ?, ?)
	`, result.Key(), result.Version, result.ComputedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert correlation result: %w", err)
	}

	return nil
}

// PutAll stores a batch of correlation results in one transaction.
func (r *Repository) PutAll(results []domain.CorrelationResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	ins, err := tx.Prepare(`
		INSERT INTO correlation_results (key, version, computed_at, payload)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer ins.Close()

	now := time.Now().UTC()
	for _, result := range results {
		result.Version = uuid.NewString()
		result.ComputedAt = now

		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result %s: %w", result.Key(), err)
		}
		if _, err := ins.Exec(result.Key(), result.Version, now.UnixNano(), string(payload)); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", result.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Int("count", len(results)).Msg("Stored correlation results")
	return nil
}

// Get returns the latest version stored under a key.
func (r *Repository) Get(key string) (domain.CorrelationResult, error) {
	var payload string
	err := r.db.QueryRow(`
		SELECT payload FROM correlation_results
		WHERE key = ?
		ORDER BY computed_at DESC, version DESC
		LIMIT 1
	`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.CorrelationResult{}, fmt.Errorf("result %s: %w", key, domain.ErrNoData)
	}
	if err != nil {
		return domain.CorrelationResult{}, fmt.Errorf("failed to query result: %w", err)
	}

	var result domain.CorrelationResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return domain.CorrelationResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return result, nil
}

// Versions returns how many versions exist under a key.
func (r *Repository) Versions(key string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM correlation_results WHERE key = ?
	`, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return count, nil
}

// Latest returns the latest version of every key, newest first, up to limit.
func (r *Repository) Latest(limit int) ([]domain.CorrelationResult, error) {
	rows, err := r.db.Query(`
		SELECT payload FROM correlation_results cr
		WHERE computed_at = (
			SELECT MAX(computed_at) FROM correlation_results WHERE key = cr.key
		)
		ORDER BY computed_at DESC, key ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest results: %w", err)
	}
	defer rows.Close()

	var results []domain.CorrelationResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		var result domain.CorrelationResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// PutBacktest stores a backtest result, stamping the run id and timestamp.
func (r *Repository) PutBacktest(result domain.BacktestResult, runID string) error {
	result.RunID = runID
	result.ComputedAt = time.Now().UTC()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal backtest result: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO backtest_results (strategy_id, run_id, computed_at, payload)
		VALUES (?, ?, ?, ?)
	`, result.StrategyID, runID, result.ComputedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}
	return nil
}

// LatestBacktests returns the most recent backtest results, newest first.
func (r *Repository) LatestBacktests(limit int) ([]domain.BacktestResult, error) {
	rows, err := r.db.Query(`
		SELECT payload FROM backtest_results
		ORDER BY computed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var results []domain.BacktestResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		var result domain.BacktestResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal backtest result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest results: %w", err)
	}

	return results, nil
}
