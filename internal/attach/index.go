package attach

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// FileIndex is a snapshot of the regular files under a root, built once per
// run. Lookups are case-insensitive since legacy paths come from a
// case-insensitive filesystem.
type FileIndex struct {
	root  string
	files map[string]string // lower-cased path -> path on disk
}

// BuildIndex walks root and records every regular file.
func BuildIndex(root string) (*FileIndex, error) {
	idx := &FileIndex{root: filepath.Clean(root), files: make(map[string]string)}
	err := filepath.WalkDir(idx.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			idx.files[strings.ToLower(p)] = p
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", root, err)
	}
	return idx, nil
}

// Len returns the number of indexed files.
func (i *FileIndex) Len() int {
	return len(i.files)
}

// Resolve returns the on-disk path matching p, ignoring case.
func (i *FileIndex) Resolve(p string) (string, bool) {
	actual, ok := i.files[strings.ToLower(filepath.Clean(p))]
	return actual, ok
}
