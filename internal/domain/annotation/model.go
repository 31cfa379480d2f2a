// Package annotation stores per-note ICD-O-3 extraction results and applies
// human candidate selections on top of them. Documents are keyed by session,
// note and prompt type ("histology" or "site") and persisted through the
// session store.
package annotation

import (
	"strings"
	"time"

	"github.com/annotext/annotext/pkg/codes"
)

// MatchMethod records which extraction strategy produced a code.
type MatchMethod string

const (
	// MethodExact is a direct code found verbatim in the text.
	MethodExact MatchMethod = "exact"
	// MethodLLMCSVExact is an LLM-extracted full query code confirmed by the
	// reference table.
	MethodLLMCSVExact MatchMethod = "llm_csv_exact"
	// MethodLLMCSVCombined is an LLM-extracted morphology and topography pair
	// confirmed as a valid combination.
	MethodLLMCSVCombined MatchMethod = "llm_csv_combined"
	// MethodLLMCSVMorphologyText is an LLM-extracted morphology code matched
	// against the table using the site text.
	MethodLLMCSVMorphologyText MatchMethod = "llm_csv_morphology_text"
	// MethodLLMCSVText is a text-only match against reference entry names.
	MethodLLMCSVText MatchMethod = "llm_csv_text"
	// MethodPatternLookup is a match from the static term lookup table.
	MethodPatternLookup MatchMethod = "pattern_lookup"
)

// userSelectedPrefix marks a match method whose code was picked by a reviewer
// rather than ranked first by extraction.
const userSelectedPrefix = "user_selected_"

// UserSelectedMethod returns m marked as a reviewer selection. Already marked
// methods pass through unchanged.
func UserSelectedMethod(m MatchMethod) MatchMethod {
	if strings.HasPrefix(string(m), userSelectedPrefix) {
		return m
	}
	return MatchMethod(userSelectedPrefix) + m
}

// Prompt types classify which annotation slot an extraction belongs to.
const (
	PromptHistology    = "histology"
	PromptSite         = "site"
	PromptUnclassified = "unclassified"
)

// Candidate is one ranked reference entry proposed for an annotation. Rank
// is the 1-based position in the candidate list.
type Candidate struct {
	Rank           int         `json:"rank"`
	QueryCode      string      `json:"query_code"`
	MorphologyCode string      `json:"morphology_code"`
	TopographyCode string      `json:"topography_code"`
	Name           string      `json:"name"`
	MatchScore     float64     `json:"match_score"`
	MatchMethod    MatchMethod `json:"match_method"`
}

// ExtractedCode is the stored annotation document for one prompt type of one
// note. The top-level code fields mirror the currently selected candidate;
// Candidates keeps the full ranked list so a reviewer can switch the
// selection later.
type ExtractedCode struct {
	NoteID         string      `json:"note_id"`
	PromptType     string      `json:"prompt_type"`
	QueryCode      string      `json:"query_code,omitempty"`
	MorphologyCode string      `json:"morphology_code,omitempty"`
	TopographyCode string      `json:"topography_code,omitempty"`
	HistologyCode  string      `json:"histology_code,omitempty"`
	BehaviorCode   string      `json:"behavior_code,omitempty"`
	Name           string      `json:"name,omitempty"`
	MatchScore     float64     `json:"match_score"`
	MatchMethod    MatchMethod `json:"match_method,omitempty"`
	Candidates     []Candidate `json:"candidates,omitempty"`
	SelectedIndex  int         `json:"selected_index"`
	UserSelected   bool        `json:"user_selected"`
	ExtractedAt    time.Time   `json:"extracted_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ApplyCandidate copies the candidate at index into the top-level fields and
// splits the morphology into its histology and behavior components.
func (e *ExtractedCode) ApplyCandidate(index int) {
	c := e.Candidates[index]
	e.QueryCode = c.QueryCode
	e.MorphologyCode = c.MorphologyCode
	e.TopographyCode = c.TopographyCode
	e.HistologyCode, e.BehaviorCode = codes.SplitMorphology(c.MorphologyCode)
	e.Name = c.Name
	e.MatchScore = c.MatchScore
	e.MatchMethod = c.MatchMethod
	e.SelectedIndex = index
}
