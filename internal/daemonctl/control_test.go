package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deeplinker/internal/api"
	"deeplinker/internal/apiclient"
	"deeplinker/internal/testsupport"
)

func closedAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func TestStopReportsNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := apiclient.New(closedAddr(t), "", time.Second)
	if _, err := StopAndTerminate(context.Background(), client, cfg, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestEnsureStartedDetectsRunningDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 4242})
	}))
	defer srv.Close()

	client := apiclient.New(srv.URL, "", time.Second)
	result, err := EnsureStarted(context.Background(), client, "/nonexistent", LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != StartStateAlreadyRunning || result.PID != 4242 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWaitForShutdownReturnsOnceUnreachable(t *testing.T) {
	client := apiclient.New(closedAddr(t), "", time.Second)
	if err := WaitForShutdown(context.Background(), client, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeplinker.pid")
	if err := os.WriteFile(path, []byte("nope\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readPID(path); err == nil {
		t.Fatal("expected malformed pid error")
	}
	if err := os.WriteFile(path, []byte("123\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if pid, err := readPID(path); err != nil || pid != 123 {
		t.Fatalf("readPID = %d, %v", pid, err)
	}
}

func TestLaunchRejectsEmptyExecutable(t *testing.T) {
	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}
