package utils

import "unicode/utf8"

// Truncate cuts s to at most maxLen runes and appends "..." when anything
// was dropped.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
