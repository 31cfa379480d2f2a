// Package unify combines a note's morphology and topography annotations into
// a single validated ICD-O-3 code and exposes the reference table lookups
// that support the review UI.
package unify

import "time"

// Source records how a unified code came to be.
type Source string

const (
	// SourceCombined means the code was combined from the note's current
	// histology and site selections.
	SourceCombined Source = "combined"
	// SourceSearchSelected means the reviewer picked a code from search that
	// differs from the note's current selections.
	SourceSearchSelected Source = "search_selected"
	// SourceUserOverride means the reviewer forced a code that is not a
	// valid reference combination.
	SourceUserOverride Source = "user_override"
)

// UnifiedCode is the final reviewed code for a note.
type UnifiedCode struct {
	NoteID          string    `json:"note_id"`
	QueryCode       string    `json:"query_code"`
	MorphologyCode  string    `json:"morphology_code"`
	TopographyCode  string    `json:"topography_code"`
	Name            string    `json:"name,omitempty"`
	Valid           bool      `json:"valid"`
	MorphologyValid bool      `json:"morphology_valid"`
	TopographyValid bool      `json:"topography_valid"`
	Source          Source    `json:"source"`
	UserSelected    bool      `json:"user_selected"`
	CombinedAt      time.Time `json:"combined_at"`
}
