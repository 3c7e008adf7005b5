package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrInvalidRef reports a storage reference that escapes the store root.
var ErrInvalidRef = errors.New("invalid storage reference")

// Store manages blobs under a single root directory.
type Store struct {
	root string
}

// SaveResult describes a committed blob.
type SaveResult struct {
	Ref      string
	Path     string
	Size     int64
	Checksum string
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// Save streams r into a new blob. ext (for example ".mp4") is kept on the
// stored name so downstream tools can infer the container.
func (s *Store) Save(r io.Reader, ext string) (SaveResult, error) {
	ref := newRef(ext)
	fullPath := filepath.Join(s.root, ref)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return SaveResult{}, fmt.Errorf("create blob directory: %w", err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return SaveResult{}, fmt.Errorf("create temp blob: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return SaveResult{}, fmt.Errorf("write blob: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return SaveResult{}, fmt.Errorf("fsync blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return SaveResult{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return SaveResult{}, fmt.Errorf("commit blob: %w", err)
	}

	return SaveResult{
		Ref:      ref,
		Path:     fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Import moves a finished file (usually from a workspace) into the store.
// When a rename across filesystems is impossible the file is copied.
func (s *Store) Import(path string) (SaveResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SaveResult{}, fmt.Errorf("stat import source: %w", err)
	}
	if info.IsDir() {
		return SaveResult{}, fmt.Errorf("import source %s is a directory", path)
	}
	ref := newRef(filepath.Ext(path))
	fullPath := filepath.Join(s.root, ref)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return SaveResult{}, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.Rename(path, fullPath); err == nil {
		checksum, err := fileChecksum(fullPath)
		if err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Ref: ref, Path: fullPath, Size: info.Size(), Checksum: checksum}, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return SaveResult{}, fmt.Errorf("open import source: %w", err)
	}
	defer in.Close()
	res, err := s.Save(in, filepath.Ext(path))
	if err != nil {
		return SaveResult{}, err
	}
	if res.Size != info.Size() {
		_ = s.Release(res.Ref)
		return SaveResult{}, fmt.Errorf("import size mismatch: source %d bytes, stored %d bytes", info.Size(), res.Size)
	}
	_ = os.Remove(path)
	return res, nil
}

// Path resolves ref to an absolute path inside the store.
func (s *Store) Path(ref string) (string, error) {
	ref = filepath.Clean(strings.TrimSpace(ref))
	if ref == "" || ref == "." || !filepath.IsLocal(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.root, ref), nil
}

// Open opens the blob for reading. The caller closes the file.
func (s *Store) Open(ref string) (*os.File, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", ref, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open blob %s: %w", ref, err)
	}
	return f, nil
}

// Exists reports whether ref names a stored blob.
func (s *Store) Exists(ref string) bool {
	path, err := s.Path(ref)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Release deletes the blob. Missing blobs are not an error.
func (s *Store) Release(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release blob %s: %w", ref, err)
	}
	return nil
}

// FreeBytes reports the space available to unprivileged writers on the
// volume holding the store.
func (s *Store) FreeBytes() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", s.root, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// newRef spreads blobs over 256 shard directories.
func newRef(ext string) string {
	id := uuid.NewString()
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(id[:2], id+ext)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open blob for checksum: %w", err)
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("checksum blob: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
