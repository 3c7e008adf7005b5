package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deeplinker/internal/logging"
)

// Workspace is a scratch directory owned by one job or download session.
type Workspace struct {
	dir  string
	once sync.Once
	err  error
}

// NewWorkspace creates a fresh directory under root. label is sanitized and
// used as the directory prefix to make leftovers attributable.
func NewWorkspace(root, label string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", root, err)
	}
	dir, err := os.MkdirTemp(root, sanitizeLabel(label)+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Release removes the workspace and everything in it. Repeated calls return
// the first result.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.err = fmt.Errorf("release workspace %s: %w", w.dir, err)
		}
	})
	return w.err
}

func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	out := b.String()
	if len(out) > 48 {
		out = out[:48]
	}
	return out
}

// CleanStaleWorkspaces removes workspace directories under root older than
// maxAge, returning the removed paths. Used at daemon start to reclaim space
// left behind by a crash.
func CleanStaleWorkspaces(root string, maxAge time.Duration, logger *slog.Logger) []string {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logging.WarnWithContext(logger, "failed to remove stale workspace", "workspace_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.Hint("check paths.work_dir permissions"),
				logging.Impact("disk space not reclaimed"),
			)
			continue
		}
		removed = append(removed, path)
		if logger != nil {
			logger.Info("removed stale workspace",
				logging.String("path", path),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.Event("workspace_cleanup"),
			)
		}
	}
	return removed
}
