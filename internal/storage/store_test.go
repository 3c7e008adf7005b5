package storage_test

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deeplinker/internal/logging"
	"deeplinker/internal/storage"
)

func TestSaveOpenRelease(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := store.Save(strings.NewReader("hello"), "mp4")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Size != 5 || filepath.Ext(res.Ref) != ".mp4" {
		t.Fatalf("unexpected save result: %+v", res)
	}
	if res.Checksum != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected checksum %s", res.Checksum)
	}
	f, err := store.Open(res.Ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(f)
	_ = f.Close()
	if string(data) != "hello" {
		t.Fatalf("unexpected contents %q", data)
	}
	if err := store.Release(res.Ref); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.Exists(res.Ref) {
		t.Fatal("expected blob removed")
	}
	if err := store.Release(res.Ref); err != nil {
		t.Fatalf("second Release should be a no-op: %v", err)
	}
	if _, err := store.Open(res.Ref); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestPathRejectsEscapes(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, ref := range []string{"../etc/passwd", "/abs/path", "", "."} {
		if _, err := store.Path(ref); !errors.Is(err, storage.ErrInvalidRef) {
			t.Fatalf("Path(%q) expected ErrInvalidRef, got %v", ref, err)
		}
	}
}

func TestImportMovesFile(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := filepath.Join(t.TempDir(), "collage.jpg")
	if err := os.WriteFile(src, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := store.Import(src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source moved away, stat err=%v", err)
	}
	if !store.Exists(res.Ref) || res.Size != int64(len("jpeg-bytes")) || filepath.Ext(res.Ref) != ".jpg" {
		t.Fatalf("unexpected import result %+v", res)
	}
}

func TestFreeBytes(t *testing.T) {
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	free, err := store.FreeBytes()
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space on temp volume")
	}
}

func TestWorkspaceReleaseIdempotent(t *testing.T) {
	root := t.TempDir()
	ws, err := storage.NewWorkspace(root, "tok/preview")
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if strings.Contains(filepath.Base(ws.Dir()), "/") || !strings.HasPrefix(filepath.Base(ws.Dir()), "tok_preview-") {
		t.Fatalf("unexpected workspace dir %s", ws.Dir())
	}
	if err := os.WriteFile(ws.Path("frame.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err=%v", err)
	}
}

func TestCleanStaleWorkspaces(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old-1")
	recent := filepath.Join(root, "recent-1")
	for _, dir := range []string{old, recent} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	removed := storage.CleanStaleWorkspaces(root, time.Hour, logging.NewNop())
	if len(removed) != 1 || removed[0] != old {
		t.Fatalf("unexpected removed set %v", removed)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent workspace should remain: %v", err)
	}
}
