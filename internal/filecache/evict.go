package filecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// listEntries returns the cached files in dir, oldest first. In-progress
// downloads are skipped, as are files removed while listing.
func listEntries(dir string) ([]entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing cache directory: %w", err)
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entry{
			path:    filepath.Join(dir, de.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return a.modTime.Compare(b.modTime)
	})

	return entries, nil
}

// evictBySize deletes the oldest files while the directory holds maxBytes
// or more. It keeps going past failed deletions.
func evictBySize(dir string, maxBytes int64) (int, error) {
	entries, err := listEntries(dir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total < maxBytes {
		return 0, nil
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if total < maxBytes {
			break
		}
		if err := remove(e.path); err != nil {
			errs = append(errs, err)
			continue
		}
		total -= e.size
		removed++
	}

	return removed, errors.Join(errs...)
}

// evictByCount deletes the oldest files until at most maxFiles remain.
func evictByCount(dir string, maxFiles int) (int, error) {
	entries, err := listEntries(dir)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxFiles {
		return 0, nil
	}

	removed := 0
	var errs []error
	for _, e := range entries[:len(entries)-maxFiles] {
		if err := remove(e.path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

func remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("evicting %s: %w", filepath.Base(path), err)
	}
	return nil
}
