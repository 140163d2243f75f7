package file

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"time"
)

type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// FindOlderThan returns regular files under dir last modified before cutoff,
// oldest first. A missing dir yields no files.
func FindOlderThan(dir string, cutoff time.Time) ([]Entry, error) {
	var stale []Entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed between listing and stat
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		}
		return nil
	})

	slices.SortFunc(stale, func(a, b Entry) int {
		return a.ModTime.Compare(b.ModTime)
	})
	return stale, err
}
