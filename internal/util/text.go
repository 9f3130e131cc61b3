package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Normalize canonicalizes raw message text for matching and hashing.
// It lower-cases the text, collapses every whitespace run (newlines included)
// to a single space and trims both ends. Empty input yields empty output.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	// strings.Fields splits on unicode.IsSpace runs and drops the ends.
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// TruncateRunes returns at most n code points of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Fingerprint returns the hex SHA-256 digest of the first maxChars code points
// of already-normalized text.
func Fingerprint(normalized string, maxChars int) string {
	sum := sha256.Sum256([]byte(TruncateRunes(normalized, maxChars)))
	return hex.EncodeToString(sum[:])
}
