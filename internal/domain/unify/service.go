package unify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/internal/domain/annotation"
	"github.com/annotext/annotext/internal/domain/refindex"
	"github.com/annotext/annotext/internal/platform/session"
)

var (
	// ErrIndexUnavailable indicates the reference table failed to load at
	// startup, so lookups and combination cannot be served.
	ErrIndexUnavailable = errors.New("reference index unavailable")

	// ErrCombinationNotFound indicates the morphology and topography pair is
	// not a valid reference combination.
	ErrCombinationNotFound = errors.New("combination not found in reference table")

	// ErrNotFound indicates no unified code was stored for the note.
	ErrNotFound = errors.New("no unified code for note")
)

// The unified code shares the note's annotation namespace in the session
// store, under its own field.
const fieldUnified = "unified"

// Service performs reference lookups and unification over the session store.
type Service struct {
	index  *refindex.Index
	store  session.Store
	annots *annotation.Service
	logger zerolog.Logger
}

// NewService creates a unify service. index may be nil when the reference
// table failed to load; lookup operations then fail with ErrIndexUnavailable.
func NewService(index *refindex.Index, store session.Store, annots *annotation.Service, logger zerolog.Logger) *Service {
	return &Service{index: index, store: store, annots: annots, logger: logger}
}

// Search runs a free-text search over the reference table.
func (s *Service) Search(query string, filter refindex.SearchFilter, limit int) ([]refindex.SearchResult, error) {
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	return s.index.Search(query, filter, limit), nil
}

// Validate checks a morphology and topography pair against the table.
func (s *Service) Validate(morphology, topography string) (refindex.ValidationResult, error) {
	if s.index == nil {
		return refindex.ValidationResult{}, ErrIndexUnavailable
	}
	return s.index.ValidateCombination(morphology, topography), nil
}

// Topographies lists the valid topographies for a morphology code.
func (s *Service) Topographies(morphology string, limit int) ([]refindex.TopographyOption, error) {
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	return s.index.TopographiesForMorphology(morphology, limit), nil
}

// Morphologies lists the valid morphologies for a topography code.
func (s *Service) Morphologies(topography string, limit int) ([]refindex.MorphologyOption, error) {
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	return s.index.MorphologiesForTopography(topography, limit), nil
}

// CombineRequest carries one unification decision.
type CombineRequest struct {
	NoteID         string `json:"note_id"`
	MorphologyCode string `json:"morphology_code"`
	TopographyCode string `json:"topography_code"`
	// Override stores the pair even when it is not a valid reference
	// combination.
	Override bool `json:"override"`
}

// Combine validates the pair, stamps its provenance and persists it as the
// note's unified code. Without Override an invalid combination is rejected
// with ErrCombinationNotFound. An overridden invalid pair is stored with the
// two halves only: the joined query code is never synthesized for a
// combination absent from the reference table.
func (s *Service) Combine(ctx context.Context, sessionID string, req CombineRequest) (*UnifiedCode, error) {
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	if req.NoteID == "" || req.MorphologyCode == "" || req.TopographyCode == "" {
		return nil, fmt.Errorf("combine: note id, morphology and topography are required")
	}

	v := s.index.ValidateCombination(req.MorphologyCode, req.TopographyCode)
	if !v.Valid && !req.Override {
		return nil, fmt.Errorf("%w: %s + %s", ErrCombinationNotFound, req.MorphologyCode, req.TopographyCode)
	}

	unified := &UnifiedCode{
		NoteID:          req.NoteID,
		QueryCode:       v.QueryCode,
		MorphologyCode:  req.MorphologyCode,
		TopographyCode:  req.TopographyCode,
		Name:            v.Name,
		Valid:           v.Valid,
		MorphologyValid: v.MorphologyValid,
		TopographyValid: v.TopographyValid,
		Source:          s.provenance(ctx, sessionID, req),
		UserSelected:    true,
		CombinedAt:      time.Now().UTC(),
	}

	raw, err := json.Marshal(unified)
	if err != nil {
		return nil, fmt.Errorf("marshal unified code: %w", err)
	}
	k := session.Key{SessionID: sessionID, NoteID: req.NoteID, Field: fieldUnified}
	if err := s.store.Put(ctx, k, raw); err != nil {
		return nil, fmt.Errorf("store unified code: %w", err)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("note_id", req.NoteID).
		Str("query_code", unified.QueryCode).
		Bool("valid", unified.Valid).
		Str("source", string(unified.Source)).
		Msg("unified code stored")
	return unified, nil
}

// provenance decides the source label for a combine request. A pair matching
// the note's current histology and site selections is a plain combination;
// anything else was picked from search, unless the reviewer overrode
// validation entirely.
func (s *Service) provenance(ctx context.Context, sessionID string, req CombineRequest) Source {
	if req.Override {
		return SourceUserOverride
	}

	docs, err := s.annots.ForNote(ctx, sessionID, req.NoteID)
	if err != nil {
		s.logger.Warn().Err(err).Str("note_id", req.NoteID).Msg("could not load annotations for provenance")
		return SourceSearchSelected
	}
	hist, site := docs[annotation.PromptHistology], docs[annotation.PromptSite]
	if hist != nil && site != nil &&
		hist.MorphologyCode == req.MorphologyCode && site.TopographyCode == req.TopographyCode {
		return SourceCombined
	}
	return SourceSearchSelected
}

// GetUnified returns the note's stored unified code. A unified code comes
// into existence only through Combine; selections alone never produce one.
func (s *Service) GetUnified(ctx context.Context, sessionID, noteID string) (*UnifiedCode, error) {
	k := session.Key{SessionID: sessionID, NoteID: noteID, Field: fieldUnified}
	raw, err := s.store.Get(ctx, k)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load unified code: %w", err)
	}

	var unified UnifiedCode
	if err := json.Unmarshal(raw, &unified); err != nil {
		return nil, fmt.Errorf("decode unified code: %w", err)
	}
	return &unified, nil
}
