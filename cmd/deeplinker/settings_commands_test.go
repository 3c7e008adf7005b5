package main

import (
	"strings"
	"testing"
)

func TestSettingsSetAndGet(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "settings", "set", "watermark_text", "hello world")
	if err != nil {
		t.Fatalf("settings set: %v", err)
	}
	if strings.TrimSpace(out) != `watermark_text = "hello world"` {
		t.Fatalf("unexpected set output %q", out)
	}

	out, err = env.run(t, "settings", "get", "watermark_text")
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	if strings.TrimSpace(out) != `"hello world"` {
		t.Fatalf("unexpected get output %q", out)
	}

	if _, err := env.run(t, "settings", "set", "preview_length", "999"); err == nil {
		t.Fatal("expected out-of-range preview length to fail")
	}

	out, err = env.run(t, "settings", "list")
	if err != nil {
		t.Fatalf("settings list: %v", err)
	}
	if !strings.Contains(out, "watermark_text\t\"hello world\"") {
		t.Fatalf("expected override in listing:\n%s", out)
	}
}

func TestSettingLiteral(t *testing.T) {
	tests := map[string]string{
		"5":           "5",
		"true":        "true",
		`"quoted"`:    `"quoted"`,
		"bottom-left": `"bottom-left"`,
		"0.25":        "0.25",
	}
	for in, want := range tests {
		if got := string(settingLiteral(in)); got != want {
			t.Fatalf("settingLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}
