package statements

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
	"github.com/marketecho/marketecho/internal/utils"
)

// Repository persists ingested statements, the per-ticker event calendar and
// run checkpoints.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new statement repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "statement_repository").Logger(),
	}
}

// Insert stores statements in a single transaction. A statement already
// present keeps its original row; reruns over the same feed are idempotent.
// duplicateOf maps collapsed statement ids to their surviving original.
func (r *Repository) Insert(stmts []domain.Statement, duplicateOf map[string]string) error {
	if len(stmts) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	ins, err := tx.Prepare(`
		INSERT OR IGNORE INTO statements
		(id, source, author, timestamp, text, sentiment, topic, entities, duplicate_of, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer ins.Close()

	now := time.Now().Unix()
	for _, stmt := range stmts {
		entities, err := json.Marshal(stmt.Entities)
		if err != nil {
			return fmt.Errorf("failed to marshal entities for %s: %w", stmt.ID, err)
		}

		var dup sql.NullString
		if survivor, ok := duplicateOf[stmt.ID]; ok {
			dup = sql.NullString{String: survivor, Valid: true}
		}

		if _, err := ins.Exec(
			stmt.ID, stmt.Source, stmt.Author, stmt.Timestamp.Unix(),
			stmt.Text, stmt.Sentiment, stmt.Topic, string(entities), dup, now,
		); err != nil {
			return fmt.Errorf("failed to insert statement %s: %w", stmt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Int("count", len(stmts)).Msg("Inserted statements")
	return nil
}

// RecentByAuthor returns non-duplicate statements by an author within the
// window ending at until, ordered by ascending timestamp. Used as the
// deduplication lookback.
func (r *Repository) RecentByAuthor(author string, until time.Time, window time.Duration) ([]domain.Statement, error) {
	rows, err := r.db.Query(`
		SELECT id, source, author, timestamp, text, sentiment, topic, entities
		FROM statements
		WHERE author = ? AND timestamp >= ? AND timestamp <= ? AND duplicate_of IS NULL
		ORDER BY timestamp ASC
	`, author, until.Add(-window).Unix(), until.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent statements: %w", err)
	}
	defer rows.Close()

	return scanStatements(rows)
}

// ListBetween returns non-duplicate statements with timestamps in [from, to],
// ordered by timestamp then id for reproducible batch ordering.
func (r *Repository) ListBetween(from, to time.Time) ([]domain.Statement, error) {
	rows, err := r.db.Query(`
		SELECT id, source, author, timestamp, text, sentiment, topic, entities
		FROM statements
		WHERE timestamp >= ? AND timestamp <= ? AND duplicate_of IS NULL
		ORDER BY timestamp ASC, id ASC
	`, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	return scanStatements(rows)
}

func scanStatements(rows *sql.Rows) ([]domain.Statement, error) {
	var stmts []domain.Statement
	for rows.Next() {
		var stmt domain.Statement
		var tsUnix int64
		var topic sql.NullString
		var entities string

		if err := rows.Scan(&stmt.ID, &stmt.Source, &stmt.Author, &tsUnix,
			&stmt.Text, &stmt.Sentiment, &topic, &entities); err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}

		stmt.Timestamp = time.Unix(tsUnix, 0).UTC()
		stmt.Topic = topic.String
		if err := json.Unmarshal([]byte(entities), &stmt.Entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities for %s: %w", stmt.ID, err)
		}

		stmts = append(stmts, stmt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statements: %w", err)
	}

	return stmts, nil
}

// RecordEvent marks a date as an event day for a ticker. The correlation
// baseline excludes event-adjacent days, so every evaluated (statement,
// ticker) pair lands here.
func (r *Repository) RecordEvent(ticker, date, statementID string) error {
	dateUnix, err := utils.DateToUnix(date)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO statement_events (ticker, date, statement_id)
		VALUES (?, ?, ?)
	`, ticker, dateUnix, statementID)
	if err != nil {
		return fmt.Errorf("failed to record statement event: %w", err)
	}
	return nil
}

// EventDates lists distinct event dates for a ticker, ascending.
func (r *Repository) EventDates(ticker string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT date FROM statement_events
		WHERE ticker = ?
		ORDER BY date ASC
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query event dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var dateUnix int64
		if err := rows.Scan(&dateUnix); err != nil {
			return nil, fmt.Errorf("failed to scan event date: %w", err)
		}
		dates = append(dates, utils.UnixToDate(dateUnix))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event dates: %w", err)
	}

	return dates, nil
}

// Checkpoint returns the stored checkpoint value, or zero if none exists.
func (r *Repository) Checkpoint(name string) (int64, error) {
	var value int64
	err := r.db.QueryRow(`SELECT value FROM checkpoints WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	return value, nil
}

// SetCheckpoint stores a checkpoint value.
func (r *Repository) SetCheckpoint(name string, value int64) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO checkpoints (name, value) VALUES (?, ?)
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}
