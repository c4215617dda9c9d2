package util

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// FoldUsername normalizes a username for storage and lookup. Only ASCII input
// is folded: full case folding maps some runes onto ASCII ("ß" to "ss",
// the Kelvin sign to "k"), so anything else is returned as typed and left
// for IsAlphanumeric to reject.
func FoldUsername(username string) string {
	username = strings.TrimSpace(username)
	if !isASCII(username) {
		return username
	}
	return folder.String(username)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// IsAlphanumeric reports whether s is non-empty and only ASCII letters and digits.
func IsAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
