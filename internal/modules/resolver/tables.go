package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Tables holds the precomputed resolution inputs: the curated alias
// dictionary, the fuzzy-matchable universe of known organization names, the
// sector baskets and the per-ticker context tokens used for disambiguation.
// Resolution never touches the network; everything it needs is here.
type Tables struct {
	// Aliases maps a normalized entity name to its ticker.
	Aliases map[string]string `json:"aliases"`

	// Names maps a known organization name (normalized) to its ticker.
	// The fuzzy matcher scans these.
	Names map[string]string `json:"names"`

	// Sectors maps a normalized sector term to a basket of representative
	// tickers.
	Sectors map[string][]string `json:"sectors"`

	// Context maps a ticker to tokens whose presence in a statement boosts
	// that ticker during disambiguation.
	Context map[string][]string `json:"context"`
}

// LoadTables reads resolution tables from a JSON file. Keys are normalized
// on load so callers can curate the file with natural casing.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias tables: %w", err)
	}

	var raw Tables
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse alias tables: %w", err)
	}

	return normalizeTables(&raw), nil
}

func normalizeTables(raw *Tables) *Tables {
	t := &Tables{
		Aliases: make(map[string]string, len(raw.Aliases)),
		Names:   make(map[string]string, len(raw.Names)),
		Sectors: make(map[string][]string, len(raw.Sectors)),
		Context: make(map[string][]string, len(raw.Context)),
	}
	for k, v := range raw.Aliases {
		t.Aliases[normalizeName(k)] = strings.ToUpper(v)
	}
	for k, v := range raw.Names {
		t.Names[normalizeName(k)] = strings.ToUpper(v)
	}
	for k, v := range raw.Sectors {
		basket := make([]string, 0, len(v))
		for _, ticker := range v {
			basket = append(basket, strings.ToUpper(ticker))
		}
		t.Sectors[normalizeName(k)] = basket
	}
	for k, v := range raw.Context {
		tokens := make([]string, 0, len(v))
		for _, token := range v {
			tokens = append(tokens, normalizeName(token))
		}
		t.Context[strings.ToUpper(k)] = tokens
	}
	return t
}

// DefaultTables returns a small built-in table covering the large-cap names
// the feed mentions most. Deployments supply a curated file on top of this.
func DefaultTables() *Tables {
	return normalizeTables(&Tables{
		Aliases: map[string]string{
			"ExxonMobil":        "XOM",
			"Exxon Mobil":       "XOM",
			"Exxon":             "XOM",
			"Chevron":           "CVX",
			"Lockheed Martin":   "LMT",
			"Raytheon":          "RTX",
			"Boeing":            "BA",
			"Apple":             "AAPL",
			"Microsoft":         "MSFT",
			"Tesla":             "TSLA",
			"Pfizer":            "PFE",
			"Moderna":           "MRNA",
			"JPMorgan":          "JPM",
			"Goldman Sachs":     "GS",
			"Halliburton":       "HAL",
			"ConocoPhillips":    "COP",
			"Northrop Grumman":  "NOC",
			"General Dynamics":  "GD",
			"Occidental":        "OXY",
			"Devon Energy":      "DVN",
			"Alphabet":          "GOOGL",
			"Google":            "GOOGL",
			"Meta":              "META",
			"Amazon":            "AMZN",
			"Nvidia":            "NVDA",
			"Intel":             "INTC",
			"United Healthcare": "UNH",
			"Bank of America":   "BAC",
		},
		Names: map[string]string{
			"Exxon Mobil Corporation":      "XOM",
			"Chevron Corporation":          "CVX",
			"Lockheed Martin Corporation":  "LMT",
			"RTX Corporation":              "RTX",
			"The Boeing Company":           "BA",
			"Apple Inc":                    "AAPL",
			"Microsoft Corporation":        "MSFT",
			"Tesla Inc":                    "TSLA",
			"Pfizer Inc":                   "PFE",
			"Moderna Inc":                  "MRNA",
			"JPMorgan Chase and Co":        "JPM",
			"The Goldman Sachs Group":      "GS",
			"Halliburton Company":          "HAL",
			"ConocoPhillips Company":       "COP",
			"Northrop Grumman Corporation": "NOC",
			"General Dynamics Corporation": "GD",
			"Occidental Petroleum":         "OXY",
			"Devon Energy Corporation":     "DVN",
			"Alphabet Inc":                 "GOOGL",
			"Meta Platforms":               "META",
			"Amazon com Inc":               "AMZN",
			"Nvidia Corporation":           "NVDA",
			"Intel Corporation":            "INTC",
			"UnitedHealth Group":           "UNH",
			"Bank of America Corporation":  "BAC",
		},
		Sectors: map[string][]string{
			"energy":     {"XOM", "CVX", "COP", "OXY", "DVN", "HAL"},
			"oil":        {"XOM", "CVX", "COP", "OXY"},
			"defense":    {"LMT", "RTX", "NOC", "GD", "BA"},
			"tech":       {"AAPL", "MSFT", "GOOGL", "META", "NVDA"},
			"technology": {"AAPL", "MSFT", "GOOGL", "META", "NVDA"},
			"pharma":     {"PFE", "MRNA", "UNH"},
			"banks":      {"JPM", "GS", "BAC"},
			"finance":    {"JPM", "GS", "BAC"},
		},
		Context: map[string][]string{
			"XOM":   {"oil", "energy", "gas", "drilling", "petroleum"},
			"CVX":   {"oil", "energy", "gas", "petroleum"},
			"LMT":   {"defense", "military", "weapons", "missile"},
			"RTX":   {"defense", "military", "missile"},
			"BA":    {"aircraft", "aviation", "defense", "planes"},
			"TSLA":  {"electric", "vehicles", "ev", "cars"},
			"PFE":   {"vaccine", "drug", "pharma", "medicine"},
			"MRNA":  {"vaccine", "mrna", "pharma"},
			"NVDA":  {"chips", "ai", "gpu", "semiconductors"},
			"INTC":  {"chips", "semiconductors", "fabs"},
			"GOOGL": {"search", "ads", "ai", "internet"},
			"META":  {"social", "media", "ads", "internet"},
		},
	})
}
