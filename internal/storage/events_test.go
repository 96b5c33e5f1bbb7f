package storage

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"over limit", "hello world", 5, "hello"},
		{"empty", "", 5, ""},
		{"multibyte runes", strings.Repeat("日本", 5), 3, "日本日"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateContent(tc.content, tc.maxLen)
			if got != tc.want {
				t.Errorf("TruncateContent(%q, %d) = %q, want %q", tc.content, tc.maxLen, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncation produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestTruncateContent_PreviewLength(t *testing.T) {
	long := strings.Repeat("a", 2*ContentPreviewLength)
	got := TruncateContent(long, ContentPreviewLength)
	if len(got) != ContentPreviewLength {
		t.Errorf("expected %d chars, got %d", ContentPreviewLength, len(got))
	}
}
