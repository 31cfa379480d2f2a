package unify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/internal/domain/annotation"
	"github.com/annotext/annotext/internal/domain/refindex"
	"github.com/annotext/annotext/internal/platform/session"
)

const fixtureCSV = `Query,Morphology,Topography,NAME
8940/0-C00.2,8940/0,C00.2,"Fibromyxosarcoma, jaw"
8805/3-C49.2,8805/3,C49.2,"Undifferentiated sarcoma, lower limb"
8805/3-C49.1,8805/3,C49.1,"Undifferentiated sarcoma, upper limb"
8852/3-C50.1,8852/3,C50.1,"Myxoid liposarcoma, breast"
`

type testEnv struct {
	svc    *Service
	annots *annotation.Service
}

func newTestEnv(t *testing.T, withIndex bool) testEnv {
	t.Helper()
	var ix *refindex.Index
	if withIndex {
		var err error
		ix, err = refindex.LoadReader(strings.NewReader(fixtureCSV), zerolog.Nop())
		if err != nil {
			t.Fatalf("LoadReader: %v", err)
		}
	}
	store := session.NewMemory()
	annots := annotation.NewService(store, zerolog.Nop())
	return testEnv{
		svc:    NewService(ix, store, annots, zerolog.Nop()),
		annots: annots,
	}
}

func recordSelection(t *testing.T, env testEnv, promptType, queryCode, morphology, topography string, userSelected bool) {
	t.Helper()
	doc := &annotation.ExtractedCode{
		NoteID:     "note-1",
		PromptType: promptType,
		Candidates: []annotation.Candidate{{
			QueryCode: queryCode, MorphologyCode: morphology, TopographyCode: topography,
			MatchScore: 0.9, MatchMethod: annotation.MethodLLMCSVCombined,
		}},
	}
	doc.ApplyCandidate(0)
	doc.UserSelected = userSelected
	if err := env.annots.RecordExtraction(context.Background(), "sess-1", doc); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}
}

func TestCombine_ValidPair(t *testing.T) {
	env := newTestEnv(t, true)

	unified, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8805/3", TopographyCode: "C49.2",
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if !unified.Valid || unified.QueryCode != "8805/3-C49.2" {
		t.Errorf("unexpected unified code: %+v", unified)
	}
	if unified.Name != "Undifferentiated sarcoma, lower limb" {
		t.Errorf("name not resolved: %q", unified.Name)
	}
	if !unified.UserSelected {
		t.Error("combined codes are always user decisions")
	}
	if unified.CombinedAt.IsZero() {
		t.Error("CombinedAt must be stamped")
	}
}

func TestCombine_InvalidPairRejected(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8805/3", TopographyCode: "C00.2",
	})
	if !errors.Is(err, ErrCombinationNotFound) {
		t.Fatalf("expected ErrCombinationNotFound, got %v", err)
	}

	// Nothing must have been stored.
	if _, err := env.svc.GetUnified(context.Background(), "sess-1", "note-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rejected combine must not persist, got %v", err)
	}
}

func TestCombine_OverrideStoresInvalidPair(t *testing.T) {
	env := newTestEnv(t, true)

	unified, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8805/3", TopographyCode: "C00.2", Override: true,
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if unified.Valid {
		t.Error("overridden pair must remain flagged invalid")
	}
	if unified.Source != SourceUserOverride {
		t.Errorf("expected user_override source, got %q", unified.Source)
	}
	// The joined code does not exist in the table, so it must never be
	// synthesized. Only the two halves are stored.
	if unified.QueryCode != "" {
		t.Errorf("override must not fabricate a joined code, got %q", unified.QueryCode)
	}
	if unified.MorphologyCode != "8805/3" || unified.TopographyCode != "C00.2" {
		t.Errorf("halves not preserved: %+v", unified)
	}
	if !unified.MorphologyValid || !unified.TopographyValid {
		t.Error("individual code checks must still be reported")
	}

	got, err := env.svc.GetUnified(context.Background(), "sess-1", "note-1")
	if err != nil {
		t.Fatalf("GetUnified: %v", err)
	}
	if got.QueryCode != "" || got.Source != SourceUserOverride {
		t.Errorf("stored unified code diverged: %+v", got)
	}
}

func TestCombine_SourceCombinedWhenMatchingSelections(t *testing.T) {
	env := newTestEnv(t, true)
	recordSelection(t, env, annotation.PromptHistology, "8805/3-C49.2", "8805/3", "C49.2", true)
	recordSelection(t, env, annotation.PromptSite, "8805/3-C49.2", "8805/3", "C49.2", true)

	unified, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8805/3", TopographyCode: "C49.2",
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if unified.Source != SourceCombined {
		t.Errorf("expected combined source, got %q", unified.Source)
	}
}

func TestCombine_SourceSearchSelectedWhenDiverging(t *testing.T) {
	env := newTestEnv(t, true)
	recordSelection(t, env, annotation.PromptHistology, "8805/3-C49.2", "8805/3", "C49.2", true)
	recordSelection(t, env, annotation.PromptSite, "8805/3-C49.2", "8805/3", "C49.2", true)

	unified, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8852/3", TopographyCode: "C50.1",
	})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if unified.Source != SourceSearchSelected {
		t.Errorf("expected search_selected source, got %q", unified.Source)
	}
}

func TestCombine_IndexUnavailable(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8805/3", TopographyCode: "C49.2",
	})
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestGetUnified_NotFound(t *testing.T) {
	env := newTestEnv(t, true)
	if _, err := env.svc.GetUnified(context.Background(), "sess-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUnified_SelectionsAloneCreateNothing(t *testing.T) {
	env := newTestEnv(t, true)
	recordSelection(t, env, annotation.PromptHistology, "", "8805/3", "", true)
	recordSelection(t, env, annotation.PromptSite, "", "", "C49.2", true)

	// Selections never materialize a unified code by themselves.
	if _, err := env.svc.GetUnified(context.Background(), "sess-1", "note-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before combine, got %v", err)
	}

	if _, err := env.svc.Combine(context.Background(), "sess-1", CombineRequest{
		NoteID: "note-1", MorphologyCode: "8852/3", TopographyCode: "C50.1",
	}); err != nil {
		t.Fatalf("Combine: %v", err)
	}

	unified, err := env.svc.GetUnified(context.Background(), "sess-1", "note-1")
	if err != nil {
		t.Fatalf("GetUnified: %v", err)
	}
	if unified.QueryCode != "8852/3-C50.1" {
		t.Errorf("expected the combined code, got %q", unified.QueryCode)
	}
}

func TestLookups_IndexUnavailable(t *testing.T) {
	env := newTestEnv(t, false)

	if _, err := env.svc.Search("sarcoma", refindex.SearchFilter{}, 5); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Search: expected ErrIndexUnavailable, got %v", err)
	}
	if _, err := env.svc.Validate("8805/3", "C49.2"); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Validate: expected ErrIndexUnavailable, got %v", err)
	}
	if _, err := env.svc.Topographies("8805/3", 0); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Topographies: expected ErrIndexUnavailable, got %v", err)
	}
	if _, err := env.svc.Morphologies("C49.2", 0); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("Morphologies: expected ErrIndexUnavailable, got %v", err)
	}
}
