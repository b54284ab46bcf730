package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"nul removed", "bo\x00om", "boom"},
		{"invalid byte replaced", "boom\x00\xff", "boom�"},
		{"multibyte kept", "‘main’", "‘main’"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Fatalf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClipKeepsRuneBoundary(t *testing.T) {
	in := strings.Repeat("a", 4095) + "‘main’"
	got := Clip(in, 4096, "...")
	if !utf8.ValidString(got) {
		t.Fatalf("clipped text is not valid utf8: %q", got[len(got)-8:])
	}
	if got != strings.Repeat("a", 4095)+"..." {
		t.Fatalf("unexpected cut: %q", got[4090:])
	}
	if Clip("short", 10, "...") != "short" {
		t.Fatal("short text should be untouched")
	}
	if Clip("abc", 0, "...") != "abc" {
		t.Fatal("non-positive limit disables clipping")
	}
}
