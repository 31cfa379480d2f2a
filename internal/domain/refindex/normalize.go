package refindex

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDiacritics strips combining marks so that e.g. "sarcome myxoïde"
// matches "myxoide".
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeText lowercases, removes diacritics and collapses whitespace.
func normalizeText(s string) string {
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// scoreTextSimilarity rates how well a search text matches a candidate name,
// in [0,1]. Substring containment scores high; otherwise a character-bigram
// Dice coefficient scaled to at most 0.7 is used.
func scoreTextSimilarity(search, candidate string) float64 {
	searchNorm := normalizeText(search)
	candNorm := normalizeText(candidate)
	if searchNorm == "" || candNorm == "" {
		return 0
	}

	if strings.Contains(candNorm, searchNorm) {
		return 0.85 + 0.1*float64(len(searchNorm))/float64(len(candNorm))
	}
	if strings.Contains(searchNorm, candNorm) {
		return 0.75 + 0.1*float64(len(candNorm))/float64(len(searchNorm))
	}

	return bigramDice(searchNorm, candNorm) * 0.7
}

// bigramDice computes the Sørensen–Dice coefficient over character bigrams.
func bigramDice(a, b string) float64 {
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	common := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if m < n {
				common += m
			} else {
				common += n
			}
		}
	}

	totalA, totalB := 0, 0
	for _, n := range ba {
		totalA += n
	}
	for _, n := range bb {
		totalB += n
	}
	return 2 * float64(common) / float64(totalA+totalB)
}

func bigrams(s string) map[string]int {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	grams := make(map[string]int, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		grams[string(r[i:i+2])]++
	}
	return grams
}
