package results

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunRecord is one recorded pipeline run.
type RunRecord struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    json.RawMessage `json:"summary"`
}

// StartRun records the beginning of a pipeline run.
func (r *Repository) StartRun(id string, startedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO runs (id, started_at, payload) VALUES (?, ?, '{}')
	`, id, startedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun closes a run with its summary payload.
func (r *Repository) FinishRun(id string, finishedAt time.Time, summary any) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE runs SET finished_at = ?, payload = ? WHERE id = ?
	`, finishedAt.Unix(), string(payload), id)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// Runs lists recorded runs, newest first.
func (r *Repository) Runs(limit int) ([]RunRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, started_at, finished_at, payload FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedUnix int64
		var finishedUnix sql.NullInt64
		var payload string

		if err := rows.Scan(&rec.ID, &startedUnix, &finishedUnix, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		rec.StartedAt = time.Unix(startedUnix, 0).UTC()
		if finishedUnix.Valid {
			t := time.Unix(finishedUnix.Int64, 0).UTC()
			rec.FinishedAt = &t
		}
		rec.Summary = json.RawMessage(payload)
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
