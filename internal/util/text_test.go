package util

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only whitespace", " \n\t  ", ""},
		{"lower-cases", "Backend DEVELOPER", "backend developer"},
		{"collapses runs", "a  b\t\tc\n\nd", "a b c d"},
		{"trims ends", "  hiring now \n", "hiring now"},
		{"cyrillic", "Ищу  Разработчика", "ищу разработчика"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	in := "  Looking for a\nBackend   Developer  "
	once := Normalize(in)
	if twice := Normalize(once); twice != once {
		t.Errorf("Normalize not idempotent: %q then %q", once, twice)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"hello", 0, ""},
		{"привет", 3, "при"},
		{"", 3, ""},
	}

	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	// sha256("abc")
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Fingerprint("abc", 2000); got != abc {
		t.Errorf("Fingerprint(abc) = %s, want %s", got, abc)
	}

	if got := Fingerprint("abcdef", 3); got != abc {
		t.Errorf("Fingerprint should hash only the first 3 chars, got %s", got)
	}

	long := strings.Repeat("x", 3000)
	if Fingerprint(long, 2000) != Fingerprint(long+"tail", 2000) {
		t.Error("texts sharing the truncated prefix should share a fingerprint")
	}
	if Fingerprint("a", 2000) == Fingerprint("b", 2000) {
		t.Error("distinct texts should not share a fingerprint")
	}
}
