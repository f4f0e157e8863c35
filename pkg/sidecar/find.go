package sidecar

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Find returns every sidecar file below root, sorted.
func Find(root string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(root, "**", FileName))
	if err != nil {
		return nil, fmt.Errorf("expanding sidecar glob under %s: %w", root, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Entry is a sidecar found on disk. Err is set when the file could not be read.
type Entry struct {
	Path   string
	Result *Result
	Err    error
}

// ReadAll loads every sidecar below root. Unreadable files are reported per
// entry rather than failing the walk.
func ReadAll(root string) ([]Entry, error) {
	paths, err := Find(root)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(paths))
	for _, p := range paths {
		r, err := Read(p)
		out = append(out, Entry{Path: p, Result: r, Err: err})
	}
	return out, nil
}
