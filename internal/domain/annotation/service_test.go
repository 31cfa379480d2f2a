package annotation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/annotext/annotext/internal/platform/session"
)

func newTestService() *Service {
	return NewService(session.NewMemory(), zerolog.Nop())
}

func sampleExtraction() *ExtractedCode {
	doc := &ExtractedCode{
		NoteID:     "note-1",
		PromptType: PromptHistology,
		Candidates: []Candidate{
			{QueryCode: "8805/3-C49.2", MorphologyCode: "8805/3", TopographyCode: "C49.2",
				Name: "Undifferentiated sarcoma, lower limb", MatchScore: 0.9, MatchMethod: MethodLLMCSVCombined},
			{QueryCode: "8805/3-C49.1", MorphologyCode: "8805/3", TopographyCode: "C49.1",
				Name: "Undifferentiated sarcoma, upper limb", MatchScore: 0.6, MatchMethod: MethodLLMCSVMorphologyText},
		},
	}
	doc.ApplyCandidate(0)
	return doc
}

func TestRecordExtraction_RoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if err := svc.RecordExtraction(ctx, "sess-1", sampleExtraction()); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	got, err := svc.Get(ctx, "sess-1", "note-1", PromptHistology)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.QueryCode != "8805/3-C49.2" {
		t.Errorf("unexpected query code %q", got.QueryCode)
	}
	if got.UserSelected {
		t.Error("fresh extraction must not be marked user selected")
	}
	if len(got.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(got.Candidates))
	}
	if got.ExtractedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps must be set")
	}
}

func TestRecordExtraction_MissingKeyFields(t *testing.T) {
	svc := newTestService()
	if err := svc.RecordExtraction(context.Background(), "sess-1", &ExtractedCode{NoteID: "n"}); err == nil {
		t.Error("expected an error for missing prompt type")
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Get(context.Background(), "sess-1", "missing", PromptHistology); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSelectCandidate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.RecordExtraction(ctx, "sess-1", sampleExtraction()); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	doc, err := svc.SelectCandidate(ctx, "sess-1", "note-1", PromptHistology, 1)
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if doc.QueryCode != "8805/3-C49.1" {
		t.Errorf("selection did not update query code: %q", doc.QueryCode)
	}
	if doc.SelectedIndex != 1 {
		t.Errorf("SelectedIndex = %d, want 1", doc.SelectedIndex)
	}
	if !doc.UserSelected {
		t.Error("UserSelected must be set")
	}
	if doc.MatchMethod != UserSelectedMethod(MethodLLMCSVMorphologyText) {
		t.Errorf("match method not marked as user selected: %q", doc.MatchMethod)
	}
	if doc.HistologyCode != "8805" || doc.BehaviorCode != "3" {
		t.Errorf("morphology split not applied: %q / %q", doc.HistologyCode, doc.BehaviorCode)
	}

	// Selecting the same index again leaves the document unchanged.
	again, err := svc.SelectCandidate(ctx, "sess-1", "note-1", PromptHistology, 1)
	if err != nil {
		t.Fatalf("SelectCandidate (repeat): %v", err)
	}
	if again.QueryCode != doc.QueryCode || again.SelectedIndex != 1 || !again.UserSelected {
		t.Error("repeated selection must be idempotent")
	}
	if again.MatchMethod != doc.MatchMethod {
		t.Errorf("repeated selection changed the match method: %q", again.MatchMethod)
	}
}

func TestSelectCandidate_OutOfRange(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.RecordExtraction(ctx, "sess-1", sampleExtraction()); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	for _, index := range []int{-1, 2, 100} {
		if _, err := svc.SelectCandidate(ctx, "sess-1", "note-1", PromptHistology, index); !errors.Is(err, ErrCandidateIndexOutOfRange) {
			t.Errorf("index %d: expected ErrCandidateIndexOutOfRange, got %v", index, err)
		}
	}

	// A failed selection must not disturb the stored document.
	got, err := svc.Get(ctx, "sess-1", "note-1", PromptHistology)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserSelected || got.SelectedIndex != 0 {
		t.Error("failed selection modified the document")
	}
}

func TestSelectCandidate_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.SelectCandidate(context.Background(), "sess-1", "missing", PromptHistology, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSelectCandidate_ConcurrentSelectionsConverge(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.RecordExtraction(ctx, "sess-1", sampleExtraction()); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		index := i % 2
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SelectCandidate(ctx, "sess-1", "note-1", PromptHistology, index); err != nil {
				t.Errorf("SelectCandidate: %v", err)
			}
		}()
	}
	wg.Wait()

	// Whichever selection landed last, the document must be internally
	// consistent with one of the candidates.
	got, err := svc.Get(ctx, "sess-1", "note-1", PromptHistology)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c := got.Candidates[got.SelectedIndex]
	if got.QueryCode != c.QueryCode || got.Name != c.Name || got.MatchMethod != UserSelectedMethod(c.MatchMethod) {
		t.Errorf("document diverged from its selected candidate: %+v vs %+v", got, c)
	}
	if !got.UserSelected {
		t.Error("UserSelected must be set after selections")
	}
}

func TestRecordExtraction_ParallelPrompts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// Histology and site extractions for one note land on distinct keys and
	// must not contend.
	var wg sync.WaitGroup
	for _, pt := range []string{PromptHistology, PromptSite} {
		promptType := pt
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := sampleExtraction()
			doc.PromptType = promptType
			if err := svc.RecordExtraction(ctx, "sess-1", doc); err != nil {
				t.Errorf("RecordExtraction(%s): %v", promptType, err)
			}
		}()
	}
	wg.Wait()

	docs, err := svc.ForNote(ctx, "sess-1", "note-1")
	if err != nil {
		t.Fatalf("ForNote: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("expected both prompt documents, got %d", len(docs))
	}
}

func TestForNote(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	hist := sampleExtraction()
	if err := svc.RecordExtraction(ctx, "sess-1", hist); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}
	site := &ExtractedCode{
		NoteID:     "note-1",
		PromptType: PromptSite,
		Candidates: []Candidate{{QueryCode: "8805/3-C49.2", TopographyCode: "C49.2", MatchScore: 0.5, MatchMethod: MethodLLMCSVText}},
	}
	site.ApplyCandidate(0)
	if err := svc.RecordExtraction(ctx, "sess-1", site); err != nil {
		t.Fatalf("RecordExtraction: %v", err)
	}

	docs, err := svc.ForNote(ctx, "sess-1", "note-1")
	if err != nil {
		t.Fatalf("ForNote: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[PromptHistology] == nil || docs[PromptSite] == nil {
		t.Error("missing prompt type documents")
	}
}

func TestClassifyPrompt(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"What is the histological diagnosis?", PromptHistology},
		{"Extract the morphology code", PromptHistology},
		{"What type of tumor is described? tumor type please", PromptHistology},
		{"What is the primary site of the tumor?", PromptSite},
		{"Where is the lesion located? location", PromptSite},
		{"Which organ is affected?", PromptSite},
		{"Summarize the note", PromptUnclassified},
		{"What is the histological diagnosis at this site?", PromptHistology},
	}
	for _, tc := range cases {
		if got := ClassifyPrompt(tc.prompt); got != tc.want {
			t.Errorf("ClassifyPrompt(%q) = %q, want %q", tc.prompt, got, tc.want)
		}
	}
}
