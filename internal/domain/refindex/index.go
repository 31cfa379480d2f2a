// Package refindex loads the ICD-O-3 diagnosis code reference table and
// provides exact, combined and free-text lookups over it. The index is built
// once at startup and is immutable afterwards, so it is safe to share across
// concurrent readers without locking.
package refindex

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/pkg/codes"
)

// ErrLoad indicates the reference table could not be loaded or parsed.
var ErrLoad = errors.New("reference table load failed")

// Required column headers in the reference CSV.
const (
	colQuery      = "Query"
	colMorphology = "Morphology"
	colTopography = "Topography"
	colName       = "NAME"
)

// Index holds the loaded reference table and its lookup structures.
type Index struct {
	entries      []*ReferenceEntry
	byQuery      map[string]*ReferenceEntry
	byMorphology map[string][]*ReferenceEntry
	byTopography map[string][]*ReferenceEntry
}

// Load reads the reference CSV at path and builds the index.
func Load(path string, logger zerolog.Logger) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrLoad, path, err)
	}
	defer f.Close()

	return LoadReader(f, logger)
}

// LoadReader parses reference CSV rows from r and builds the index. Rows with
// a duplicate query code are skipped (first occurrence wins) and the skipped
// count is logged.
func LoadReader(r io.Reader, logger zerolog.Logger) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrLoad, err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{colQuery, colMorphology, colTopography, colName} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrLoad, required)
		}
	}

	idx := &Index{
		byQuery:      make(map[string]*ReferenceEntry),
		byMorphology: make(map[string][]*ReferenceEntry),
		byTopography: make(map[string][]*ReferenceEntry),
	}

	field := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	duplicates := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read row: %v", ErrLoad, err)
		}

		e := &ReferenceEntry{
			QueryCode:      field(rec, colQuery),
			MorphologyCode: field(rec, colMorphology),
			TopographyCode: field(rec, colTopography),
			Name:           field(rec, colName),
		}
		if e.QueryCode == "" {
			continue
		}
		if _, exists := idx.byQuery[e.QueryCode]; exists {
			duplicates++
			continue
		}

		idx.entries = append(idx.entries, e)
		idx.byQuery[e.QueryCode] = e
		if e.MorphologyCode != "" {
			idx.byMorphology[e.MorphologyCode] = append(idx.byMorphology[e.MorphologyCode], e)
		}
		if e.TopographyCode != "" {
			idx.byTopography[e.TopographyCode] = append(idx.byTopography[e.TopographyCode], e)
		}
	}

	if duplicates > 0 {
		logger.Warn().Int("duplicates_skipped", duplicates).Msg("reference table contains duplicate query codes")
	}
	logger.Info().
		Int("entries", len(idx.entries)).
		Int("morphologies", len(idx.byMorphology)).
		Int("topographies", len(idx.byTopography)).
		Msg("reference index built")

	return idx, nil
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// MorphologyCount returns the number of distinct morphology codes.
func (ix *Index) MorphologyCount() int { return len(ix.byMorphology) }

// TopographyCount returns the number of distinct topography codes.
func (ix *Index) TopographyCount() int { return len(ix.byTopography) }

// GetByQueryCode returns the entry for the exact query code, or nil.
func (ix *Index) GetByQueryCode(code string) *ReferenceEntry {
	return ix.byQuery[strings.TrimSpace(code)]
}

// IsValidMorphology reports whether at least one entry carries the code.
func (ix *Index) IsValidMorphology(code string) bool {
	_, ok := ix.byMorphology[strings.TrimSpace(code)]
	return ok
}

// IsValidTopography reports whether at least one entry carries the code.
func (ix *Index) IsValidTopography(code string) bool {
	_, ok := ix.byTopography[strings.TrimSpace(code)]
	return ok
}

// TopographiesForMorphology returns the distinct topography codes valid for a
// morphology, ordered by query code ascending and capped at limit
// (default 50).
func (ix *Index) TopographiesForMorphology(morphology string, limit int) []TopographyOption {
	if limit <= 0 {
		limit = 50
	}
	morphology = strings.TrimSpace(morphology)
	if morphology == "" {
		return nil
	}

	seen := make(map[string]bool)
	var results []TopographyOption
	for _, e := range ix.byMorphology[morphology] {
		if e.TopographyCode == "" || seen[e.TopographyCode] {
			continue
		}
		seen[e.TopographyCode] = true
		results = append(results, TopographyOption{
			TopographyCode: e.TopographyCode,
			QueryCode:      e.QueryCode,
			Name:           e.Name,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].QueryCode < results[j].QueryCode })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// MorphologiesForTopography returns the distinct morphology codes valid for a
// topography, ordered by query code ascending and capped at limit
// (default 50).
func (ix *Index) MorphologiesForTopography(topography string, limit int) []MorphologyOption {
	if limit <= 0 {
		limit = 50
	}
	topography = strings.TrimSpace(topography)
	if topography == "" {
		return nil
	}

	seen := make(map[string]bool)
	var results []MorphologyOption
	for _, e := range ix.byTopography[topography] {
		if e.MorphologyCode == "" || seen[e.MorphologyCode] {
			continue
		}
		seen[e.MorphologyCode] = true
		results = append(results, MorphologyOption{
			MorphologyCode: e.MorphologyCode,
			QueryCode:      e.QueryCode,
			Name:           e.Name,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].QueryCode < results[j].QueryCode })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ValidateCombination checks whether the joined "{morphology}-{topography}"
// code exists as a reference entry. The individual code checks are reported
// even when the combination is invalid.
func (ix *Index) ValidateCombination(morphology, topography string) ValidationResult {
	morphology = strings.TrimSpace(morphology)
	topography = strings.TrimSpace(topography)

	result := ValidationResult{
		MorphologyValid: morphology != "" && ix.IsValidMorphology(morphology),
		TopographyValid: topography != "" && ix.IsValidTopography(topography),
	}
	if morphology == "" || topography == "" {
		return result
	}

	if e := ix.byQuery[codes.Join(morphology, topography)]; e != nil {
		return ValidationResult{
			Valid:           true,
			QueryCode:       e.QueryCode,
			Name:            e.Name,
			MorphologyValid: true,
			TopographyValid: true,
		}
	}

	// The joined key may be formatted differently in the table; fall back to
	// scanning the morphology group for a topography match.
	for _, e := range ix.byMorphology[morphology] {
		if e.TopographyCode == topography {
			return ValidationResult{
				Valid:           true,
				QueryCode:       e.QueryCode,
				Name:            e.Name,
				MorphologyValid: true,
				TopographyValid: true,
			}
		}
	}

	return result
}

// CandidateHints carries the search terms and code fragments available to
// ranked candidate retrieval. Any subset of fields may be set.
type CandidateHints struct {
	HistologyText  string
	TopographyText string
	MorphologyCode string
	TopographyCode string
	QueryCode      string
}

// Empty reports whether no hint field is set.
func (h CandidateHints) Empty() bool {
	return h.HistologyText == "" && h.TopographyText == "" &&
		h.MorphologyCode == "" && h.TopographyCode == "" && h.QueryCode == ""
}

// TopCandidates returns up to n entries ranked by match confidence, combining
// exact, code-combination and text strategies. Results are deduplicated by
// query code (best score wins) and ordered by score descending, query code
// ascending.
func (ix *Index) TopCandidates(h CandidateHints, n int) []RankedEntry {
	if n <= 0 {
		n = 5
	}

	ranked := make(map[string]RankedEntry)
	add := func(e *ReferenceEntry, score float64, strategy MatchStrategy) {
		if e == nil || e.QueryCode == "" {
			return
		}
		if prev, ok := ranked[e.QueryCode]; ok && prev.Score >= score {
			return
		}
		ranked[e.QueryCode] = RankedEntry{Entry: e, Score: score, Strategy: strategy}
	}

	// Exact query code match.
	if h.QueryCode != "" {
		add(ix.GetByQueryCode(h.QueryCode), 1.0, StrategyExact)
	}

	// Both code halves known: exact combination rows.
	if h.MorphologyCode != "" && h.TopographyCode != "" {
		for _, e := range ix.byMorphology[h.MorphologyCode] {
			if e.TopographyCode == h.TopographyCode {
				add(e, 0.9, StrategyCombined)
			}
		}
	}

	// Morphology code alone, boosted by topography text similarity.
	if h.MorphologyCode != "" {
		for _, e := range ix.byMorphology[h.MorphologyCode] {
			score := 0.6
			if h.TopographyText != "" {
				sim := scoreTextSimilarity(h.TopographyText, e.Name)
				if s := 0.6 + sim*0.15; s > score {
					score = s
				}
			}
			if score > 0.75 {
				score = 0.75
			}
			add(e, score, StrategyMorphology)
		}
	}

	// Topography code alone, boosted by histology text similarity.
	if h.TopographyCode != "" {
		for _, e := range ix.byTopography[h.TopographyCode] {
			score := 0.5
			if h.HistologyText != "" {
				sim := scoreTextSimilarity(h.HistologyText, e.Name)
				if s := 0.5 + sim*0.15; s > score {
					score = s
				}
			}
			if score > 0.65 {
				score = 0.65
			}
			add(e, score, StrategyTopography)
		}
	}

	// Text-only matching over entry names.
	for _, term := range []string{h.HistologyText, h.TopographyText} {
		if normalizeText(term) == "" {
			continue
		}
		for _, e := range ix.entries {
			sim := scoreTextSimilarity(term, e.Name)
			if sim < 0.3 {
				continue
			}
			score := 0.3 + sim*0.3
			if score > 0.6 {
				score = 0.6
			}
			add(e, score, StrategyText)
		}
	}

	results := make([]RankedEntry, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.QueryCode < results[j].Entry.QueryCode
	})
	if len(results) > n {
		results = results[:n]
	}
	return results
}
