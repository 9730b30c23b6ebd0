// Package fsx provides the small set of filesystem primitives the pipeline's
// publish discipline relies on: atomic file replacement, atomic directory
// swap, and dated artifact naming. Readers of the published layer must never
// observe a half-written table, so every table write in the project funnels
// through WriteFileAtomic or SwapDir.
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// WriteFileAtomic writes data to path by writing a sibling temp file and
// renaming it into place. The rename is atomic on POSIX filesystems, so a
// concurrent reader sees either the old content or the new, never a mix.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// SwapDir replaces dst with the fully built directory src. The old directory
// is moved aside before the rename and deleted only after the swap succeeds,
// so a reader mid-scan of the old file set completes safely and a failed
// swap can restore the previous state.
func SwapDir(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	// Dot-prefixed so a crash between the swap and the cleanup below leaves
	// an entry that published-layer scans already ignore.
	old := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old")
	// Leftover aside dir from a crashed run; safe to discard.
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("remove stale %s: %w", old, err)
	}
	hadPrev := false
	if _, err := os.Stat(dst); err == nil {
		hadPrev = true
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("move aside %s: %w", dst, err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if hadPrev {
			// Best effort restore of the previous table.
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("swap %s -> %s: %w", src, dst, err)
	}
	if hadPrev {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("remove old %s: %w", old, err)
		}
	}
	return nil
}

// DatedName builds a timestamped artifact file name, e.g.
// "transactions_stream_20250131_154501.csv".
func DatedName(entity, suffix string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.csv", entity, suffix, t.UTC().Format("20060102_150405"))
}

// Glob returns the sorted matches for pattern. Sorting keeps artifact order
// deterministic; dated names sort oldest first.
func Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
