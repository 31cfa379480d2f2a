package refindex

// ReferenceEntry is one row of the ICD-O-3 diagnosis code reference table.
// The query code joins the morphology and topography halves ("8940/0-C00.2")
// and is unique within the table.
type ReferenceEntry struct {
	QueryCode      string `json:"query_code"`
	MorphologyCode string `json:"morphology_code"`
	TopographyCode string `json:"topography_code"`
	Name           string `json:"name"`
}

// SearchResult is a scored entry returned by free-text search.
type SearchResult struct {
	QueryCode      string  `json:"query_code"`
	MorphologyCode string  `json:"morphology_code"`
	TopographyCode string  `json:"topography_code"`
	Name           string  `json:"name"`
	MatchScore     float64 `json:"match_score"`
}

// TopographyOption is a valid topography for a given morphology code.
type TopographyOption struct {
	TopographyCode string `json:"topography_code"`
	QueryCode      string `json:"query_code"`
	Name           string `json:"name"`
}

// MorphologyOption is a valid morphology for a given topography code.
type MorphologyOption struct {
	MorphologyCode string `json:"morphology_code"`
	QueryCode      string `json:"query_code"`
	Name           string `json:"name"`
}

// ValidationResult reports whether a morphology + topography combination
// exists in the reference table. MorphologyValid and TopographyValid report
// the individual code checks regardless of whether the joined code exists.
type ValidationResult struct {
	Valid           bool   `json:"valid"`
	QueryCode       string `json:"query_code,omitempty"`
	Name            string `json:"name,omitempty"`
	MorphologyValid bool   `json:"morphology_valid"`
	TopographyValid bool   `json:"topography_valid"`
}

// MatchStrategy identifies which lookup strategy produced a ranked entry.
type MatchStrategy string

const (
	StrategyExact      MatchStrategy = "exact"
	StrategyCombined   MatchStrategy = "combined"
	StrategyMorphology MatchStrategy = "morphology"
	StrategyTopography MatchStrategy = "topography"
	StrategyText       MatchStrategy = "text"
)

// RankedEntry is a reference entry with the score and strategy that matched it.
type RankedEntry struct {
	Entry    *ReferenceEntry
	Score    float64
	Strategy MatchStrategy
}
