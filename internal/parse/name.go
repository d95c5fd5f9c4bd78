package parse

import (
	"regexp"
	"strings"
)

var (
	nonNameRe    = regexp.MustCompile(`[^a-z0-9\s]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeName canonicalizes an attraction name for matching: lowercase,
// strip everything but letters, digits and spaces, collapse whitespace runs.
// Idempotent, so cached keys and fresh input normalize identically.
func NormalizeName(raw string) string {
	s := strings.ToLower(raw)
	s = nonNameRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
