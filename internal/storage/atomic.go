// Package storage holds the shared on-disk write discipline used by the
// JSON document stores: write a sibling temp file, roll the current file to
// .bak, then rename the temp into place. A failed write never corrupts the
// previous document.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteAtomic writes data to path via a sibling .tmp file and an atomic
// rename. If the target already exists its bytes are first copied to
// path+".bak" so one prior generation survives.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o644); err != nil {
			return fmt.Errorf("write backup for %s: %w", path, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// ReadWithBackup reads path, falling back to path+".bak" when the primary is
// missing or fails the caller's decode step. decode is called with the bytes
// of each candidate in turn; the first nil error wins.
//
// When the primary exists but fails to decode it is renamed aside to
// path+".corrupt.<unix-ts>" so the next write starts clean. Returns
// os.ErrNotExist when neither candidate yields a decodable document.
func ReadWithBackup(path string, decode func([]byte) error) error {
	data, err := os.ReadFile(path)
	if err == nil {
		if decodeErr := decode(data); decodeErr == nil {
			return nil
		}
		corrupt := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
		_ = os.Rename(path, corrupt)
	} else if !os.IsNotExist(err) {
		return err
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		return os.ErrNotExist
	}
	if decodeErr := decode(bak); decodeErr != nil {
		return os.ErrNotExist
	}
	return nil
}
