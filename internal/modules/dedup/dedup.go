package dedup

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

// Deduplicator detects near-duplicate statements. It is a pure predicate:
// the caller decides whether to drop or merge a detected duplicate.
type Deduplicator struct {
	tolerance time.Duration
	threshold float64
	log       zerolog.Logger
}

// New creates a deduplicator. toleranceMinutes bounds how far apart two
// duplicate timestamps may be; threshold is the minimum Jaccard similarity
// of normalized token sets.
func New(toleranceMinutes int, threshold float64, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		tolerance: time.Duration(toleranceMinutes) * time.Minute,
		threshold: threshold,
		log:       log.With().Str("component", "dedup").Logger(),
	}
}

// IsDuplicate reports whether stmt duplicates any statement in recent, and
// returns the id of the matched original if so. recent is expected to be a
// bounded window of previously seen statements from the same author;
// statements from other authors are skipped.
func (d *Deduplicator) IsDuplicate(stmt domain.Statement, recent []domain.Statement) (bool, string) {
	normalized := Normalize(stmt.Text)
	tokens := tokenSet(normalized)

	for _, prev := range recent {
		if prev.ID == stmt.ID {
			continue
		}
		if prev.Author != stmt.Author {
			continue
		}
		if !d.withinTolerance(stmt.Timestamp, prev.Timestamp) {
			continue
		}

		// Same text on a different source is a repost, still a duplicate.
		prevNorm := Normalize(prev.Text)
		if normalized == prevNorm {
			return true, prev.ID
		}
		if Jaccard(tokens, tokenSet(prevNorm)) >= d.threshold {
			return true, prev.ID
		}
	}

	return false, ""
}

// Collapse reduces a batch of statements to its surviving originals. Chains
// of near-duplicates (A~B, B~C) collapse to a single survivor with the
// earliest timestamp; ties break on statement id for reproducibility. The
// returned slice preserves input order of the survivors, and the map carries
// duplicateId to survivorId for every dropped statement.
func (d *Deduplicator) Collapse(statements []domain.Statement) ([]domain.Statement, map[string]string) {
	// Work on a timestamp-sorted copy so each statement is only compared
	// against earlier ones and chains resolve to the earliest member.
	sorted := make([]domain.Statement, len(statements))
	copy(sorted, statements)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Each statement is matched against every earlier one, dropped
	// duplicates included, so a chain member only close to the previous
	// link still collapses. The match then follows survivorOf to the
	// chain's root, which sorted order guarantees is the earliest member.
	survivorOf := make(map[string]string)
	var seen []domain.Statement
	for _, stmt := range sorted {
		if dup, matchedID := d.IsDuplicate(stmt, seen); dup {
			root := matchedID
			for {
				next, ok := survivorOf[root]
				if !ok {
					break
				}
				root = next
			}
			survivorOf[stmt.ID] = root
			d.log.Debug().
				Str("statement_id", stmt.ID).
				Str("survivor_id", root).
				Msg("Collapsed duplicate statement")
		}
		seen = append(seen, stmt)
	}

	kept := make(map[string]bool, len(sorted))
	for _, s := range sorted {
		if _, dropped := survivorOf[s.ID]; !dropped {
			kept[s.ID] = true
		}
	}

	// Report survivors in the caller's original order.
	var out []domain.Statement
	for _, stmt := range statements {
		if kept[stmt.ID] {
			out = append(out, stmt)
		}
	}

	return out, survivorOf
}

func (d *Deduplicator) withinTolerance(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d.tolerance
}

// Normalize case-folds, strips punctuation and collapses whitespace so that
// trivially reformatted reposts compare equal.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// Jaccard returns |a∩b| / |a∪b| for two token sets. Two empty sets are
// considered identical.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(normalized) {
		set[token] = true
	}
	return set
}
