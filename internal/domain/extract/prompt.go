package extract

import (
	"fmt"
	"strings"

	"github.com/annotext/annotext/internal/domain/annotation"
)

const extractionPromptTemplate = `You are a medical coding assistant. Read the clinical text below and extract ICD-O-3 coding information.

Respond with a single JSON object and nothing else, using exactly these keys:
{
  "histology_text": "<histology / tumor type phrase from the text, or empty>",
  "topography_text": "<anatomic site phrase from the text, or empty>",
  "morphology_code": "<ICD-O-3 morphology code like 8805/3, or empty>",
  "topography_code": "<ICD-O-3 topography code like C49.2, or empty>"
}

Only output codes that appear in or are directly implied by the text. Use empty strings for anything you cannot determine.

Clinical text:
%s
%s
JSON:`

// Annotation texts produced by the upstream pipeline sometimes carry a
// placeholder where a reviewer is expected to pick a code. Such texts hold no
// extractable content, so the note itself is used instead.
var codePlaceholders = []string{
	"[select icd-o-3 code]",
	"[select icdo code]",
	"[select code]",
	"select icd-o-3",
	"select icdo",
}

func hasCodePlaceholder(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range codePlaceholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// buildPrompt renders the code extraction prompt. A placeholder-only
// annotation is swapped for the note text; site prompts additionally carry
// the note as context, since the anatomic site is often stated outside the
// annotation itself. Texts are truncated to keep the request inside the
// model's context window.
func buildPrompt(promptType, text, noteText string) string {
	text = strings.TrimSpace(text)
	noteText = strings.TrimSpace(noteText)

	if hasCodePlaceholder(text) && noteText != "" {
		text = noteText
		noteText = ""
	}

	var noteSection string
	if promptType == annotation.PromptSite && noteText != "" {
		noteSection = "\nFull note for context:\n" + truncate(noteText) + "\n"
	}
	return fmt.Sprintf(extractionPromptTemplate, truncate(text), noteSection)
}

func truncate(s string) string {
	const maxChars = 4000
	if len(s) > maxChars {
		return s[:maxChars]
	}
	return s
}
