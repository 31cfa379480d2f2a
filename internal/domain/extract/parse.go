package extract

import (
	"encoding/json"
	"strings"

	"github.com/annotext/annotext/pkg/codes"
)

// llmHints is the JSON object the extraction prompt asks the model for.
type llmHints struct {
	HistologyText  string `json:"histology_text"`
	TopographyText string `json:"topography_text"`
	MorphologyCode string `json:"morphology_code"`
	TopographyCode string `json:"topography_code"`
}

func (h llmHints) empty() bool {
	return h.HistologyText == "" && h.TopographyText == "" &&
		h.MorphologyCode == "" && h.TopographyCode == ""
}

// parseCompletion recovers extraction hints from a raw model completion.
// Models often wrap the JSON in prose or markdown fences, so the parser takes
// the first balanced object it can find. If no object parses, codes are
// scraped from the raw text with regexes as a last resort.
func parseCompletion(raw string) llmHints {
	var hints llmHints

	if obj := firstJSONObject(raw); obj != "" {
		if err := json.Unmarshal([]byte(obj), &hints); err == nil {
			hints.MorphologyCode = strings.TrimSpace(hints.MorphologyCode)
			hints.TopographyCode = strings.TrimSpace(hints.TopographyCode)
			hints.HistologyText = strings.TrimSpace(hints.HistologyText)
			hints.TopographyText = strings.TrimSpace(hints.TopographyText)

			// Discard malformed codes but keep the text hints.
			if hints.MorphologyCode != "" && !codes.IsMorphology(hints.MorphologyCode) {
				hints.MorphologyCode = ""
			}
			if hints.TopographyCode != "" && !codes.IsTopography(hints.TopographyCode) {
				hints.TopographyCode = ""
			}
			if !hints.empty() {
				return hints
			}
		}
	}

	if m, ok := codes.FindMorphology(raw); ok {
		hints.MorphologyCode = m
	}
	if t, ok := codes.FindTopography(raw); ok {
		hints.TopographyCode = t
	}
	return hints
}

// firstJSONObject returns the first balanced {...} block in s, ignoring
// braces inside string literals.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
