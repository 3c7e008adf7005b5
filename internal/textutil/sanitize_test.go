package textutil_test

import (
	"strings"
	"testing"

	"deeplinker/internal/textutil"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  holiday: day 1/2 ", "holiday- day 1-2"},
		{`what?"<>|`, "what"},
		{"tab\there", "tabhere"},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := textutil.SanitizeFileName(tt.in); got != tt.want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := strings.Repeat("é", 300)
	if got := []rune(textutil.SanitizeFileName(long)); len(got) != 120 {
		t.Fatalf("expected name capped at 120 runes, got %d", len(got))
	}
}

func TestDownloadName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		fb    string
		ref   string
		stage string
		want  string
	}{
		{"raw keeps title", "holiday.MP4", "tok", "ab/cd.mp4", "raw", "holiday.mp4"},
		{"derived stage suffix", "holiday.mp4", "tok", "ab/cd.jpg", "collage", "holiday-collage.jpg"},
		{"fallback to token", "", "Ab3dE9", "ab/cd.mp4", "preview", "Ab3dE9-preview.mp4"},
		{"unsafe title", "a/b:c", "tok", "x.png", "watermark", "a-b-c-watermark.png"},
		{"nothing usable", "??", "", "blob", "", "download"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textutil.DownloadName(tt.title, tt.fb, tt.ref, tt.stage); got != tt.want {
				t.Fatalf("DownloadName = %q, want %q", got, tt.want)
			}
		})
	}
}
