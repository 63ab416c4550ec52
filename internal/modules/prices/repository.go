package prices

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
	"github.com/marketecho/marketecho/internal/utils"
)

// Repository persists the local price cache: daily bars, fetched ranges and
// flagged data gaps.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price cache repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "price_repository").Logger(),
	}
}

// GetRange fetches cached bars for a ticker between two dates (inclusive),
// ordered by ascending date.
func (r *Repository) GetRange(ticker, from, to string) ([]domain.DailyBar, error) {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return nil, err
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, fromUnix, toUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var b domain.DailyBar
		var dateUnix int64
		var volume sql.NullInt64

		if err := rows.Scan(&dateUnix, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		b.Date = utils.UnixToDate(dateUnix)
		if volume.Valid {
			b.Volume = &volume.Int64
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return bars, nil
}

// UpsertBars inserts or replaces bars for a ticker in a single transaction.
func (r *Repository) UpsertBars(ticker string, bars []domain.DailyBar) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices
		(ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		volume := sql.NullInt64{}
		if bar.Volume != nil {
			volume.Int64 = *bar.Volume
			volume.Valid = true
		}

		dateUnix, err := utils.DateToUnix(bar.Date)
		if err != nil {
			return fmt.Errorf("failed to parse date %s: %w", bar.Date, err)
		}

		if _, err := stmt.Exec(ticker, dateUnix, bar.Open, bar.High, bar.Low, bar.Close, volume); err != nil {
			return fmt.Errorf("failed to insert daily price for %s: %w", bar.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().
		Str("ticker", ticker).
		Int("count", len(bars)).
		Msg("Upserted daily prices")

	return nil
}

// Range is a fetched date range (inclusive), dates as "YYYY-MM-DD".
type Range struct {
	From string
	To   string
}

// MarkFetched records that [from, to] has been fetched from the collaborator,
// whether or not it contained bars. Prevents refetching holiday-only ranges.
func (r *Repository) MarkFetched(ticker, from, to string) error {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return err
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO fetched_ranges (ticker, start_date, end_date, fetched_at)
		VALUES (?, ?, ?, ?)
	`, ticker, fromUnix, toUnix, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to mark fetched range: %w", err)
	}
	return nil
}

// FetchedRanges lists all fetched ranges for a ticker, ordered by start date.
func (r *Repository) FetchedRanges(ticker string) ([]Range, error) {
	rows, err := r.db.Query(`
		SELECT start_date, end_date
		FROM fetched_ranges
		WHERE ticker = ?
		ORDER BY start_date ASC
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetched ranges: %w", err)
	}
	defer rows.Close()

	var ranges []Range
	for rows.Next() {
		var startUnix, endUnix int64
		if err := rows.Scan(&startUnix, &endUnix); err != nil {
			return nil, fmt.Errorf("failed to scan fetched range: %w", err)
		}
		ranges = append(ranges, Range{
			From: utils.UnixToDate(startUnix),
			To:   utils.UnixToDate(endUnix),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetched ranges: %w", err)
	}

	return ranges, nil
}

// RecordGaps stores flagged data gaps for a ticker.
func (r *Repository) RecordGaps(ticker string, dates []string) error {
	if len(dates) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, date := range dates {
		dateUnix, err := utils.DateToUnix(date)
		if err != nil {
			return fmt.Errorf("failed to parse gap date %s: %w", date, err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO data_gaps (ticker, date) VALUES (?, ?)
		`, ticker, dateUnix); err != nil {
			return fmt.Errorf("failed to record data gap: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Warn().
		Str("ticker", ticker).
		Int("count", len(dates)).
		Msg("Recorded data gaps")

	return nil
}

// Gaps lists flagged gap dates for a ticker within [from, to].
func (r *Repository) Gaps(ticker, from, to string) ([]string, error) {
	fromUnix, err := utils.DateToUnix(from)
	if err != nil {
		return nil, err
	}
	toUnix, err := utils.DateToUnix(to)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`
		SELECT date FROM data_gaps
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, fromUnix, toUnix)
	if err != nil {
		return nil, fmt.Errorf("failed to query data gaps: %w", err)
	}
	defer rows.Close()

	var gaps []string
	for rows.Next() {
		var dateUnix int64
		if err := rows.Scan(&dateUnix); err != nil {
			return nil, fmt.Errorf("failed to scan data gap: %w", err)
		}
		gaps = append(gaps, utils.UnixToDate(dateUnix))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data gaps: %w", err)
	}

	return gaps, nil
}

// Tickers lists all tickers present in the cache.
func (r *Repository) Tickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM daily_prices ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}

	return tickers, nil
}
