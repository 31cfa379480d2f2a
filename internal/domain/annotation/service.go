package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/internal/platform/session"
)

var (
	// ErrNotFound indicates no annotation document exists for the key.
	ErrNotFound = errors.New("annotation not found")

	// ErrCandidateIndexOutOfRange indicates a selection index outside the
	// stored candidate list.
	ErrCandidateIndexOutOfRange = errors.New("candidate index out of range")
)

// Service reads and writes annotation documents through the session store.
type Service struct {
	store  session.Store
	logger zerolog.Logger
}

// NewService creates an annotation service.
func NewService(store session.Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func key(sessionID, noteID, promptType string) session.Key {
	return session.Key{SessionID: sessionID, NoteID: noteID, Field: promptType}
}

// RecordExtraction stores a freshly extracted document, replacing any
// previous extraction for the same slot. The document is written in a single
// put so readers never observe a partial result.
func (s *Service) RecordExtraction(ctx context.Context, sessionID string, doc *ExtractedCode) error {
	if doc.NoteID == "" || doc.PromptType == "" {
		return fmt.Errorf("record extraction: note id and prompt type are required")
	}
	now := time.Now().UTC()
	if doc.ExtractedAt.IsZero() {
		doc.ExtractedAt = now
	}
	doc.UpdatedAt = now

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal annotation: %w", err)
	}
	if err := s.store.Put(ctx, key(sessionID, doc.NoteID, doc.PromptType), raw); err != nil {
		return fmt.Errorf("store annotation: %w", err)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("note_id", doc.NoteID).
		Str("prompt_type", doc.PromptType).
		Str("query_code", doc.QueryCode).
		Str("match_method", string(doc.MatchMethod)).
		Int("candidates", len(doc.Candidates)).
		Msg("extraction recorded")
	return nil
}

// Get returns the annotation document for one slot, or ErrNotFound.
func (s *Service) Get(ctx context.Context, sessionID, noteID, promptType string) (*ExtractedCode, error) {
	raw, err := s.store.Get(ctx, key(sessionID, noteID, promptType))
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load annotation: %w", err)
	}

	var doc ExtractedCode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode annotation: %w", err)
	}
	return &doc, nil
}

// ForNote returns all annotation documents stored for a note, keyed by prompt
// type.
func (s *Service) ForNote(ctx context.Context, sessionID, noteID string) (map[string]*ExtractedCode, error) {
	fields, err := s.store.Fields(ctx, sessionID, noteID)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}

	out := make(map[string]*ExtractedCode, len(fields))
	for field, raw := range fields {
		var doc ExtractedCode
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode annotation %q: %w", field, err)
		}
		out[field] = &doc
	}
	return out, nil
}

// SelectCandidate promotes the candidate at index to the document's selected
// code. The update is atomic against concurrent selections on the same slot,
// and selecting the same index twice is a no-op beyond the updated timestamp.
func (s *Service) SelectCandidate(ctx context.Context, sessionID, noteID, promptType string, index int) (*ExtractedCode, error) {
	var selected *ExtractedCode
	err := s.store.Update(ctx, key(sessionID, noteID, promptType), func(cur []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, ErrNotFound
		}

		var doc ExtractedCode
		if err := json.Unmarshal(cur, &doc); err != nil {
			return nil, fmt.Errorf("decode annotation: %w", err)
		}
		if index < 0 || index >= len(doc.Candidates) {
			return nil, fmt.Errorf("%w: %d of %d", ErrCandidateIndexOutOfRange, index, len(doc.Candidates))
		}

		doc.ApplyCandidate(index)
		doc.MatchMethod = UserSelectedMethod(doc.MatchMethod)
		doc.UserSelected = true
		doc.UpdatedAt = time.Now().UTC()

		raw, err := json.Marshal(&doc)
		if err != nil {
			return nil, fmt.Errorf("marshal annotation: %w", err)
		}
		selected = &doc
		return raw, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("note_id", noteID).
		Str("prompt_type", promptType).
		Int("candidate_index", index).
		Str("query_code", selected.QueryCode).
		Msg("candidate selected")
	return selected, nil
}

// DeleteNote removes every annotation stored for a note, including the
// unified result.
func (s *Service) DeleteNote(ctx context.Context, sessionID, noteID string) error {
	if err := s.store.DeleteNote(ctx, sessionID, noteID); err != nil {
		return fmt.Errorf("delete annotations: %w", err)
	}
	return nil
}
