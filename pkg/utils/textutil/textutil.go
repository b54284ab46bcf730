// Package textutil cleans process output before it is stored or shown.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Clean drops NUL bytes and replaces invalid UTF-8 sequences with U+FFFD.
// The result is accepted by TEXT columns in both MySQL utf8mb4 and PostgreSQL.
func Clean(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}

// Clip cuts a cleaned s to at most limit bytes without splitting a rune and
// appends suffix when anything was removed.
func Clip(s string, limit int, suffix string) string {
	s = Clean(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
