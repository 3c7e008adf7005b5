package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deeplinker/internal/testsupport"
)

func TestLogsShowsDaemonEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	src := testsupport.WriteSource(t, t.TempDir(), "beach.jpg", 256)
	if _, err := env.run(t, "ingest", src, "--kind", "photo", "--preview=false", "--collage=false"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	out, err := env.run(t, "logs", "--json", "--component", "ingest")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "media ingested") {
		t.Fatalf("expected ingest event in output:\n%s", out)
	}
}

func TestLogsFallsBackToFileWhenDaemonDown(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.API.Bind = "127.0.0.1:1"
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	line := `{"ts":"2026-03-01T10:00:00Z","level":"info","msg":"daemon started","component":"daemon"}` + "\n"
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "deeplinker.log"), []byte(line), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, err := runCLI(t, "--config", configPath, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "daemon started") || !strings.Contains(out, "[daemon]") {
		t.Fatalf("expected file event in output:\n%s", out)
	}
}
