package refindex

import (
	"sort"
	"strings"
)

// SearchFilter restricts free-text search to entries whose code starts with
// the given prefix. Either or both fields may be empty.
type SearchFilter struct {
	MorphologyPrefix string
	TopographyPrefix string
}

// Search ranks reference entries by relevance to a free-text query. The query
// is matched against codes and names, case- and diacritic-insensitively.
// Results are ordered by score descending with ties broken by query code
// ascending; an exact name match scores 1.0 and entries with no overlap are
// excluded. An empty query returns no results.
func (ix *Index) Search(query string, filter SearchFilter, limit int) []SearchResult {
	if limit <= 0 {
		limit = 20
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	queryLower := strings.ToLower(query)
	queryNorm := normalizeText(query)

	var results []SearchResult
	for _, e := range ix.entries {
		if filter.MorphologyPrefix != "" && !strings.HasPrefix(e.MorphologyCode, filter.MorphologyPrefix) {
			continue
		}
		if filter.TopographyPrefix != "" && !strings.HasPrefix(e.TopographyCode, filter.TopographyPrefix) {
			continue
		}

		score := scoreEntry(e, queryLower, queryNorm)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			QueryCode:      e.QueryCode,
			MorphologyCode: e.MorphologyCode,
			TopographyCode: e.TopographyCode,
			Name:           e.Name,
			MatchScore:     score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].MatchScore != results[j].MatchScore {
			return results[i].MatchScore > results[j].MatchScore
		}
		return results[i].QueryCode < results[j].QueryCode
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// scoreEntry scores one entry against a query. Code matches outrank name
// matches; name scoring degrades from exact through prefix, substring and
// token overlap.
func scoreEntry(e *ReferenceEntry, queryLower, queryNorm string) float64 {
	codeLower := strings.ToLower(e.QueryCode)
	morphLower := strings.ToLower(e.MorphologyCode)
	topoLower := strings.ToLower(e.TopographyCode)

	switch {
	case codeLower == queryLower:
		return 1.0
	case morphLower == queryLower || (topoLower != "" && topoLower == queryLower):
		return 0.95
	case strings.Contains(codeLower, queryLower):
		return 0.85
	case (morphLower != "" && strings.Contains(morphLower, queryLower)) ||
		(topoLower != "" && strings.Contains(topoLower, queryLower)):
		return 0.8
	}

	nameLower := strings.ToLower(e.Name)
	nameNorm := normalizeText(e.Name)
	switch {
	case nameLower == queryLower || (queryNorm != "" && nameNorm == queryNorm):
		return 1.0
	case strings.HasPrefix(nameLower, queryLower):
		return 0.9
	case strings.Contains(nameLower, queryLower):
		return 0.5 + 0.2*float64(len(queryLower))/float64(len(nameLower))
	case queryNorm != "" && strings.Contains(nameNorm, queryNorm):
		return 0.45 + 0.15*float64(len(queryNorm))/float64(len(nameNorm))
	}

	queryWords := strings.Fields(queryNorm)
	if len(queryWords) == 0 {
		return 0
	}
	nameWords := make(map[string]bool)
	for _, w := range strings.Fields(nameNorm) {
		nameWords[w] = true
	}
	common := 0
	for _, w := range queryWords {
		if nameWords[w] {
			common++
		}
	}
	if common == 0 {
		return 0
	}
	return 0.3 * float64(common) / float64(len(queryWords))
}
