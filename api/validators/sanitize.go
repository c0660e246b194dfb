package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString trims s, drops control characters, and caps it at maxLen
// bytes without splitting a rune. maxLen <= 0 disables the cap.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s))
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
