package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"deeplinker/internal/logging"
)

func TestWriteTableFallsBackToTSV(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, []string{"A", "B"}, [][]string{{"1", "2"}, {"3", "4"}}, nil)
	if buf.String() != "A\tB\n1\t2\n3\t4\n" {
		t.Fatalf("unexpected TSV %q", buf.String())
	}
}

func TestRenderTableRoundedStyle(t *testing.T) {
	out := renderTable([]string{"Stage", "Count"}, [][]string{{"preview", "3"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "╭") || !strings.Contains(out, "preview") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestHumanLabel(t *testing.T) {
	cases := map[string]string{
		"no-op":        "No Op",
		"bottom_right": "Bottom Right",
		"video":        "Video",
	}
	for in, want := range cases {
		if got := humanLabel(in); got != want {
			t.Fatalf("humanLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	if got := formatBytes(512); got != "512 B" {
		t.Fatalf("formatBytes(512) = %q", got)
	}
	if got := formatBytes(3 << 30); got != "3.0 GiB" {
		t.Fatalf("formatBytes(3GiB) = %q", got)
	}
}

func TestFormatEventIncludesContext(t *testing.T) {
	evt := logging.LogEvent{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:     "warn",
		Message:   "stage failed",
		Component: "pipeline",
		Token:     "abc123",
		Stage:     "collage",
		Fields:    map[string]string{"error": "boom"},
	}
	got := formatEvent(evt)
	for _, want := range []string{"WARN", "[pipeline]", "stage failed", "token=abc123", "stage=collage", "error=boom"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}
