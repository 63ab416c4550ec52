package database

// schemas maps database names to their embedded schema definitions.
// Each schema is idempotent (CREATE TABLE IF NOT EXISTS) so Migrate can be
// called on every startup.
var schemas = map[string]string{
	"statements": statementsSchema,
	"prices":     pricesSchema,
	"results":    resultsSchema,
}

// statementsSchema holds ingested statements, the per-ticker event calendar
// used for baseline decontamination, and run checkpoints.
const statementsSchema = `
CREATE TABLE IF NOT EXISTS statements (
    id          TEXT PRIMARY KEY,
    source      TEXT NOT NULL,
    author      TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    text        TEXT NOT NULL,
    sentiment   REAL NOT NULL DEFAULT 0,
    topic       TEXT,
    entities    TEXT NOT NULL DEFAULT '[]',
    duplicate_of TEXT,
    ingested_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_statements_author_ts ON statements(author, timestamp);
CREATE INDEX IF NOT EXISTS idx_statements_ts ON statements(timestamp);

CREATE TABLE IF NOT EXISTS statement_events (
    ticker       TEXT NOT NULL,
    date         INTEGER NOT NULL,
    statement_id TEXT NOT NULL,
    PRIMARY KEY (ticker, date, statement_id)
);

CREATE INDEX IF NOT EXISTS idx_statement_events_ticker ON statement_events(ticker);

CREATE TABLE IF NOT EXISTS checkpoints (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`

// pricesSchema holds the local price cache: daily bars, the ranges already
// fetched from the collaborator (so holidays are not refetched forever), and
// explicitly flagged data gaps.
const pricesSchema = `
CREATE TABLE IF NOT EXISTS daily_prices (
    ticker TEXT NOT NULL,
    date   INTEGER NOT NULL,
    open   REAL NOT NULL,
    high   REAL NOT NULL,
    low    REAL NOT NULL,
    close  REAL NOT NULL,
    volume INTEGER,
    PRIMARY KEY (ticker, date)
);

CREATE TABLE IF NOT EXISTS fetched_ranges (
    ticker     TEXT NOT NULL,
    start_date INTEGER NOT NULL,
    end_date   INTEGER NOT NULL,
    fetched_at INTEGER NOT NULL,
    PRIMARY KEY (ticker, start_date, end_date)
);

CREATE TABLE IF NOT EXISTS data_gaps (
    ticker TEXT NOT NULL,
    date   INTEGER NOT NULL,
    PRIMARY KEY (ticker, date)
);
`

// resultsSchema holds versioned correlation and backtest results plus run
// summaries. Rows are written once and never updated; recomputation inserts
// a new version and reads take the latest.
const resultsSchema = `
CREATE TABLE IF NOT EXISTS correlation_results (
    key         TEXT NOT NULL,
    version     TEXT NOT NULL,
    computed_at INTEGER NOT NULL,
    payload     TEXT NOT NULL,
    PRIMARY KEY (key, version)
);

CREATE INDEX IF NOT EXISTS idx_correlation_results_key ON correlation_results(key, computed_at);

CREATE TABLE IF NOT EXISTS backtest_results (
    strategy_id TEXT NOT NULL,
    run_id      TEXT NOT NULL,
    computed_at INTEGER NOT NULL,
    payload     TEXT NOT NULL,
    PRIMARY KEY (strategy_id, run_id)
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    payload     TEXT NOT NULL
);
`
