package statements

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

// FeedResult is the outcome of reading one feed: the accepted statements in
// feed order plus a count of rejected records. Nothing is dropped silently.
type FeedResult struct {
	Statements []domain.Statement
	Rejected   int
}

// Reader ingests the enriched statement feed. The feed is JSON Lines, one
// statement per line, append-only. Malformed records are rejected at this
// boundary and counted rather than propagated as partial statements.
type Reader struct {
	log zerolog.Logger
}

// NewReader creates a feed reader.
func NewReader(log zerolog.Logger) *Reader {
	return &Reader{log: log.With().Str("component", "feed").Logger()}
}

// ReadFile reads a feed file from disk.
func (r *Reader) ReadFile(path string) (FeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return FeedResult{}, fmt.Errorf("failed to open feed: %w", err)
	}
	defer f.Close()

	return r.Read(f)
}

// Read consumes a feed stream until EOF.
func (r *Reader) Read(src io.Reader) (FeedResult, error) {
	var result FeedResult

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		stmt, err := parseStatement([]byte(line))
		if err != nil {
			result.Rejected++
			r.log.Warn().
				Int("line", lineNo).
				Err(err).
				Msg("Rejected malformed feed record")
			continue
		}

		result.Statements = append(result.Statements, stmt)
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read feed: %w", err)
	}

	return result, nil
}

// parseStatement decodes and validates one feed record. Required fields must
// be present and well formed; optional fields (topic, sentiment) may be
// absent. A record with an unknown entity kind or an out-of-range sentiment
// is rejected whole rather than partially accepted.
func parseStatement(line []byte) (domain.Statement, error) {
	var stmt domain.Statement
	if err := json.Unmarshal(line, &stmt); err != nil {
		return domain.Statement{}, fmt.Errorf("invalid json: %w", err)
	}

	switch {
	case stmt.ID == "":
		return domain.Statement{}, fmt.Errorf("missing id")
	case stmt.Source == "":
		return domain.Statement{}, fmt.Errorf("missing source")
	case stmt.Author == "":
		return domain.Statement{}, fmt.Errorf("missing author")
	case stmt.Timestamp.IsZero():
		return domain.Statement{}, fmt.Errorf("missing timestamp")
	case stmt.Text == "":
		return domain.Statement{}, fmt.Errorf("missing text")
	case stmt.Sentiment < -1 || stmt.Sentiment > 1:
		return domain.Statement{}, fmt.Errorf("sentiment %.3f outside [-1, 1]", stmt.Sentiment)
	}

	for i, e := range stmt.Entities {
		if e.SurfaceText == "" {
			return domain.Statement{}, fmt.Errorf("entity %d missing surface text", i)
		}
		if !e.Kind.Valid() {
			return domain.Statement{}, fmt.Errorf("entity %d has unknown kind %q", i, e.Kind)
		}
	}

	stmt.Timestamp = stmt.Timestamp.UTC()
	return stmt, nil
}
