package config

import (
	"os"
	"path/filepath"
	"time"
)

// dirChangedSince walks dir and reports whether any entry's mtime is after
// since. Only used by the polling fallback in WatchForDrift.
func dirChangedSince(dir string, since time.Time) (bool, error) {
	changed := false
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(since) {
			changed = true
		}
		return nil
	})
	return changed, err
}
