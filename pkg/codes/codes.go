// Package codes provides syntax helpers for ICD-O-3 diagnosis codes.
//
// A morphology code has the form "XXXX/X" (histology digits, slash, behavior
// digit), a topography code has the form "CXX.X", and a full query code joins
// the two as "XXXX/X-CXX.X".
package codes

import (
	"regexp"
	"strings"
)

var (
	morphologyRe = regexp.MustCompile(`\d{4}/\d`)
	topographyRe = regexp.MustCompile(`C\d{2}\.\d`)
	queryRe      = regexp.MustCompile(`(\d{4}/\d)\s*-\s*(C\d{2}\.\d)`)

	morphologyExactRe = regexp.MustCompile(`^\d{4}/\d$`)
	topographyExactRe = regexp.MustCompile(`^C\d{2}\.\d$`)
	queryExactRe      = regexp.MustCompile(`^\d{4}/\d-C\d{2}\.\d$`)
)

// IsMorphology reports whether s is exactly a morphology code.
func IsMorphology(s string) bool { return morphologyExactRe.MatchString(s) }

// IsTopography reports whether s is exactly a topography code.
func IsTopography(s string) bool { return topographyExactRe.MatchString(s) }

// IsQueryCode reports whether s is exactly a joined morphology-topography code.
func IsQueryCode(s string) bool { return queryExactRe.MatchString(s) }

// FindQueryCode scans text for a joined code like "8852/3-C50.1" and returns
// it in canonical form (no whitespace around the dash).
func FindQueryCode(text string) (string, bool) {
	m := queryRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1] + "-" + m[2], true
}

// FindMorphology scans text for the first morphology code token.
func FindMorphology(text string) (string, bool) {
	m := morphologyRe.FindString(text)
	return m, m != ""
}

// FindTopography scans text for the first topography code token.
func FindTopography(text string) (string, bool) {
	m := topographyRe.FindString(text)
	return m, m != ""
}

// Join builds a query code from its two halves.
func Join(morphology, topography string) string {
	return morphology + "-" + topography
}

// Split splits a query code into its morphology and topography halves.
// Returns empty strings when s is not a joined code.
func Split(s string) (morphology, topography string) {
	m := queryExactRe.FindString(s)
	if m == "" {
		return "", ""
	}
	i := strings.LastIndex(s, "-")
	return s[:i], s[i+1:]
}

// SplitMorphology splits a morphology code into histology and behavior
// components ("8805/3" -> "8805", "3"). Returns empty strings when m does not
// have the expected form.
func SplitMorphology(m string) (histology, behavior string) {
	if !IsMorphology(m) {
		return "", ""
	}
	i := strings.Index(m, "/")
	return m[:i], m[i+1:]
}
