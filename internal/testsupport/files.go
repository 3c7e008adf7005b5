package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Pattern returns size bytes whose values depend on their offset, so
// misplaced or duplicated chunks change the content.
func Pattern(size int64) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i*7 + i/251)
	}
	return buf
}

// WriteSource writes Pattern(size) to dir/name and returns the path. A size
// <= 0 writes a single byte.
func WriteSource(t testing.TB, dir, name string, size int64) string {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, Pattern(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// CountFiles returns the number of regular files below root.
func CountFiles(t testing.TB, root string) int {
	t.Helper()

	count := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return count
}
