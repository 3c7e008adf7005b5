package daemon_test

import (
	"context"
	"os"
	"testing"

	"deeplinker/internal/config"
	"deeplinker/internal/daemon"
	"deeplinker/internal/logging"
	"deeplinker/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	logger := logging.NewNop()
	comps, err := daemon.Build(cfg, logger, logging.NewStreamHub(64))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d, err := daemon.New(cfg, comps, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if d.Addr() == "" {
		t.Fatal("expected bound address after start")
	}
	if _, err := os.Stat(d.LockPath()); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start on a running daemon to fail")
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.Pipeline.Workers != cfg.Pipeline.Workers || !status.Pipeline.Started {
		t.Fatalf("unexpected pipeline status %+v", status.Pipeline)
	}
	if status.DatabasePath != cfg.Paths.DatabasePath {
		t.Fatalf("unexpected database path %q", status.DatabasePath)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon stopped")
	}
	if d.Addr() != "" {
		t.Fatal("expected listener closed after stop")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	first := newDaemon(t, cfg)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	second := newDaemon(t, cfg)
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected lock contention error")
	}
}

func TestNewRejectsMissingComponents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, daemon.Components{}, nil); err == nil {
		t.Fatal("expected error for empty components")
	}
}
