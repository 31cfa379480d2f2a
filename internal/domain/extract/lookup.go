package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/pkg/codes"
)

// LookupTable maps lowercased diagnosis and site terms to ICD-O-3 codes. It
// is the last-resort extraction strategy when neither a direct code nor the
// LLM produces a match.
type LookupTable struct {
	terms map[string]string
}

// LoadLookupTable reads a JSON object of term to code mappings from path.
// Terms are lowercased on load; entries whose code is neither a morphology
// nor a topography code are dropped with a warning.
func LoadLookupTable(path string, logger zerolog.Logger) (*LookupTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lookup table %s: %w", path, err)
	}

	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse lookup table %s: %w", path, err)
	}

	t := NewLookupTable(entries)
	dropped := len(entries) - len(t.terms)
	if dropped > 0 {
		logger.Warn().Int("dropped", dropped).Msg("lookup table contains malformed codes")
	}
	logger.Info().Int("terms", len(t.terms)).Msg("lookup table loaded")
	return t, nil
}

// NewLookupTable builds a table from in-memory entries, dropping malformed
// codes.
func NewLookupTable(entries map[string]string) *LookupTable {
	terms := make(map[string]string, len(entries))
	for term, code := range entries {
		term = strings.ToLower(strings.TrimSpace(term))
		code = strings.TrimSpace(code)
		if term == "" {
			continue
		}
		if !codes.IsMorphology(code) && !codes.IsTopography(code) {
			continue
		}
		terms[term] = code
	}
	return &LookupTable{terms: terms}
}

// Len returns the number of usable terms.
func (t *LookupTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.terms)
}

// Match scans text for known terms and returns the code of the longest
// matching term whose code kind fits the prompt type (morphology codes for
// histology prompts, topography codes for site prompts). Longer terms win so
// "myxoid liposarcoma" beats "liposarcoma".
func (t *LookupTable) Match(text, promptType string) (term, code string, ok bool) {
	if t == nil || len(t.terms) == 0 {
		return "", "", false
	}
	lower := strings.ToLower(text)

	matches := make([]string, 0, 4)
	for term, code := range t.terms {
		if !strings.Contains(lower, term) {
			continue
		}
		if promptType == "histology" && !codes.IsMorphology(code) {
			continue
		}
		if promptType == "site" && !codes.IsTopography(code) {
			continue
		}
		matches = append(matches, term)
	}
	if len(matches) == 0 {
		return "", "", false
	}

	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i]) != len(matches[j]) {
			return len(matches[i]) > len(matches[j])
		}
		return matches[i] < matches[j]
	})
	best := matches[0]
	return best, t.terms[best], true
}
