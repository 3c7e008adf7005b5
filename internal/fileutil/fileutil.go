// Package fileutil holds the file move and concat helpers used to assemble
// downloaded chunks.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MoveFile renames src to dst, creating dst's parent. When the rename fails
// (for example across filesystems) it copies, checks the byte count and
// removes src.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if os.Rename(src, dst) == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	n, err := Concat(dst, []string{src})
	if err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	if n != info.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("move %s: copied %d of %d bytes", src, n, info.Size())
	}
	return os.Remove(src)
}

// Concat writes parts to dst in order and fsyncs the result. dst is removed
// when any part fails to copy.
func Concat(dst string, parts []string) (int64, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	total, err := appendParts(out, parts)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return total, nil
}

func appendParts(out io.Writer, parts []string) (int64, error) {
	var total int64
	for _, part := range parts {
		in, err := os.Open(part)
		if err != nil {
			return total, fmt.Errorf("open part %s: %w", filepath.Base(part), err)
		}
		n, err := io.Copy(out, in)
		_ = in.Close()
		total += n
		if err != nil {
			return total, fmt.Errorf("append part %s: %w", filepath.Base(part), err)
		}
	}
	return total, nil
}
