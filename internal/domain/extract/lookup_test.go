package extract

import (
	"testing"

	"github.com/annotext/annotext/internal/domain/annotation"
)

func TestLookupTable_Match(t *testing.T) {
	lookup := NewLookupTable(map[string]string{
		"liposarcoma":        "8850/3",
		"myxoid liposarcoma": "8852/3",
		"breast":             "C50.9",
	})

	term, code, ok := lookup.Match("Biopsy shows myxoid liposarcoma of the breast.", annotation.PromptHistology)
	if !ok {
		t.Fatal("expected a match")
	}
	// The longer term wins over its substring.
	if term != "myxoid liposarcoma" || code != "8852/3" {
		t.Errorf("got (%q, %q)", term, code)
	}

	term, code, ok = lookup.Match("Biopsy shows myxoid liposarcoma of the breast.", annotation.PromptSite)
	if !ok || code != "C50.9" {
		t.Errorf("site prompt should match topography codes only, got (%q, %q, %v)", term, code, ok)
	}
}

func TestLookupTable_NoMatch(t *testing.T) {
	lookup := NewLookupTable(map[string]string{"glioblastoma": "9440/3"})
	if _, _, ok := lookup.Match("unremarkable findings", annotation.PromptHistology); ok {
		t.Error("expected no match")
	}
}

func TestLookupTable_MalformedCodesDropped(t *testing.T) {
	lookup := NewLookupTable(map[string]string{
		"glioblastoma": "9440/3",
		"bad":          "not-a-code",
		"":             "8850/3",
	})
	if lookup.Len() != 1 {
		t.Errorf("expected 1 usable term, got %d", lookup.Len())
	}
}

func TestLookupTable_NilSafe(t *testing.T) {
	var lookup *LookupTable
	if _, _, ok := lookup.Match("anything", annotation.PromptHistology); ok {
		t.Error("nil table must not match")
	}
	if lookup.Len() != 0 {
		t.Error("nil table length must be 0")
	}
}
