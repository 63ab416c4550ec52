package resolver

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

const (
	// fuzzyCap keeps fuzzy confidences strictly below exact-alias matches.
	fuzzyCap = 0.95

	// contextBoost is added per context token found in the statement, up to
	// contextBoostMax. Boosted confidences stay below fuzzyCap.
	contextBoost    = 0.05
	contextBoostMax = 0.10
)

// Resolver maps entity mentions to ticker candidates. It is pure: the alias
// table, fuzzy index and sector baskets are precomputed inputs and no call
// inside resolution touches the network.
type Resolver struct {
	tables           *Tables
	fuzzyFloor       float64
	sectorConfidence float64
	log              zerolog.Logger
}

// New creates a resolver. fuzzyFloor rejects fuzzy matches scoring below it;
// sectorConfidence is the fixed confidence assigned to sector-basket tickers.
func New(tables *Tables, fuzzyFloor, sectorConfidence float64, log zerolog.Logger) *Resolver {
	return &Resolver{
		tables:           tables,
		fuzzyFloor:       fuzzyFloor,
		sectorConfidence: sectorConfidence,
		log:              log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns ticker candidates for a mention, ordered by confidence
// descending with ticker lexical order as the deterministic tiebreak.
// statementText provides disambiguation context: candidates whose context
// tokens appear in it get a small boost. The result may be empty.
func (r *Resolver) Resolve(mention domain.EntityMention, statementText string) []domain.TickerCandidate {
	name := normalizeName(mention.SurfaceText)
	if name == "" {
		return nil
	}

	// Exact alias hits are authoritative; nothing may outrank them.
	if ticker, ok := r.tables.Aliases[name]; ok {
		return []domain.TickerCandidate{{
			Ticker:     ticker,
			Confidence: 1.0,
			Method:     domain.MethodExact,
		}}
	}

	contextTokens := tokenSet(normalizeName(statementText))

	var candidates []domain.TickerCandidate
	if mention.Kind == domain.EntityKindSector {
		candidates = r.sectorCandidates(name)
	} else {
		candidates = r.fuzzyCandidates(name, contextTokens)
		if len(candidates) == 0 {
			// A sector term may arrive tagged as an organization.
			candidates = r.sectorCandidates(name)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Ticker < candidates[j].Ticker
	})

	return candidates
}

// Ambiguous reports whether the top two candidates are separated by less
// than margin, meaning neither clearly dominates.
func Ambiguous(candidates []domain.TickerCandidate, margin float64) bool {
	if len(candidates) < 2 {
		return false
	}
	return candidates[0].Confidence-candidates[1].Confidence < margin
}

func (r *Resolver) fuzzyCandidates(name string, contextTokens map[string]bool) []domain.TickerCandidate {
	// Best score per ticker across the alias and name universes.
	best := make(map[string]float64)

	score := func(known string) float64 {
		edit := 1.0 - normalizedLevenshtein(name, known)
		overlap := tokenOverlap(name, known)
		if overlap > edit {
			return overlap
		}
		return edit
	}

	for known, ticker := range r.tables.Names {
		if s := score(known); s > best[ticker] {
			best[ticker] = s
		}
	}
	for known, ticker := range r.tables.Aliases {
		if s := score(known); s > best[ticker] {
			best[ticker] = s
		}
	}

	var candidates []domain.TickerCandidate
	for ticker, s := range best {
		if s < r.fuzzyFloor {
			continue
		}
		confidence := s
		if confidence > fuzzyCap {
			confidence = fuzzyCap
		}
		confidence += r.boost(ticker, contextTokens)
		if confidence > fuzzyCap {
			confidence = fuzzyCap
		}
		candidates = append(candidates, domain.TickerCandidate{
			Ticker:     ticker,
			Confidence: confidence,
			Method:     domain.MethodFuzzy,
		})
	}

	return candidates
}

func (r *Resolver) sectorCandidates(name string) []domain.TickerCandidate {
	basket, ok := r.tables.Sectors[name]
	if !ok {
		return nil
	}

	candidates := make([]domain.TickerCandidate, 0, len(basket))
	for _, ticker := range basket {
		candidates = append(candidates, domain.TickerCandidate{
			Ticker:     ticker,
			Confidence: r.sectorConfidence,
			Method:     domain.MethodSectorProxy,
		})
	}
	return candidates
}

// boost returns the context bonus for a ticker given the statement tokens.
func (r *Resolver) boost(ticker string, contextTokens map[string]bool) float64 {
	bonus := 0.0
	for _, token := range r.tables.Context[ticker] {
		if contextTokens[token] {
			bonus += contextBoost
			if bonus >= contextBoostMax {
				return contextBoostMax
			}
		}
	}
	return bonus
}

// normalizeName lowercases, strips punctuation and collapses whitespace.
func normalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(s) {
		set[token] = true
	}
	return set
}

// tokenOverlap is the fraction of the mention's tokens present in the known
// name, weighted by how much of the known name they cover.
func tokenOverlap(mention, known string) float64 {
	mentionTokens := strings.Fields(mention)
	knownTokens := tokenSet(known)
	if len(mentionTokens) == 0 || len(knownTokens) == 0 {
		return 0
	}

	hits := 0
	for _, token := range mentionTokens {
		if knownTokens[token] {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}

	// Jaccard over the two token sets penalizes both missing and extra
	// tokens symmetrically.
	union := len(tokenSet(mention)) + len(knownTokens) - hits
	return float64(hits) / float64(union)
}

// normalizedLevenshtein is the edit distance divided by the longer length.
func normalizedLevenshtein(a, b string) float64 {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 1
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	return float64(prev[len(rb)]) / float64(longer)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
