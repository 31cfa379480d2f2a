package annotation

import "strings"

var histologyKeywords = []string{
	"histolog",
	"morpholog",
	"diagnos",
	"tumor type",
	"tumour type",
	"cancer type",
	"cell type",
}

var siteKeywords = []string{
	"topograph",
	"site",
	"location",
	"localiz",
	"organ",
	"anatomic",
	"where",
}

// ClassifyPrompt decides which annotation slot a free-text extraction prompt
// targets. Histology keywords win over site keywords when both appear, since
// prompts like "what is the histological diagnosis at this site" ask for the
// morphology.
func ClassifyPrompt(prompt string) string {
	p := strings.ToLower(prompt)
	for _, kw := range histologyKeywords {
		if strings.Contains(p, kw) {
			return PromptHistology
		}
	}
	for _, kw := range siteKeywords {
		if strings.Contains(p, kw) {
			return PromptSite
		}
	}
	return PromptUnclassified
}
