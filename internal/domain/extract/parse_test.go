package extract

import "testing"

func TestParseCompletion_CleanJSON(t *testing.T) {
	h := parseCompletion(`{"histology_text": "myxoid liposarcoma", "topography_text": "breast", "morphology_code": "8852/3", "topography_code": "C50.1"}`)
	if h.MorphologyCode != "8852/3" || h.TopographyCode != "C50.1" {
		t.Errorf("codes not parsed: %+v", h)
	}
	if h.HistologyText != "myxoid liposarcoma" || h.TopographyText != "breast" {
		t.Errorf("texts not parsed: %+v", h)
	}
}

func TestParseCompletion_WrappedInProse(t *testing.T) {
	raw := "Sure! Here is the extraction:\n```json\n{\"histology_text\": \"glioblastoma\", \"topography_text\": \"\", \"morphology_code\": \"9440/3\", \"topography_code\": \"\"}\n```\nLet me know if you need anything else."
	h := parseCompletion(raw)
	if h.MorphologyCode != "9440/3" || h.HistologyText != "glioblastoma" {
		t.Errorf("fenced JSON not recovered: %+v", h)
	}
}

func TestParseCompletion_MalformedCodesDropped(t *testing.T) {
	h := parseCompletion(`{"histology_text": "sarcoma", "topography_text": "", "morphology_code": "88053", "topography_code": "c50"}`)
	if h.MorphologyCode != "" || h.TopographyCode != "" {
		t.Errorf("malformed codes must be dropped: %+v", h)
	}
	if h.HistologyText != "sarcoma" {
		t.Errorf("text hints must survive: %+v", h)
	}
}

func TestParseCompletion_RegexFallback(t *testing.T) {
	h := parseCompletion("The morphology is 8805/3 and the site is C49.2.")
	if h.MorphologyCode != "8805/3" || h.TopographyCode != "C49.2" {
		t.Errorf("regex fallback failed: %+v", h)
	}
}

func TestParseCompletion_NothingUsable(t *testing.T) {
	h := parseCompletion("I cannot find any codes.")
	if !h.empty() {
		t.Errorf("expected empty hints, got %+v", h)
	}
}

func TestFirstJSONObject_NestedAndStrings(t *testing.T) {
	raw := `prefix {"a": {"b": "close } brace in string"}, "c": 1} suffix {"d": 2}`
	got := firstJSONObject(raw)
	want := `{"a": {"b": "close } brace in string"}, "c": 1}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFirstJSONObject_Unbalanced(t *testing.T) {
	if got := firstJSONObject(`{"a": 1`); got != "" {
		t.Errorf("expected empty for unbalanced object, got %q", got)
	}
}
