package stringutils

import "unicode/utf8"

// Truncate shortens a string to at most n bytes, adding "..." if it was
// truncated. The cut never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// OrDefault returns s if it's not empty, or def if s is empty.
func OrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
