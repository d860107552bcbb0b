package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Descriptor identifies a legacy library file.
type Descriptor struct {
	LibraryName      string
	VersionName      string
	Extension        string
	OriginalFileName string // may carry back-slash delimited directories
}

// NotFoundError lists every path that was tried.
type NotFoundError struct {
	Candidates []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("attachment not found, tried: %s", strings.Join(e.Candidates, ", "))
}

// Basename strips any back-slash or slash delimited directory prefix.
func Basename(name string) string {
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Candidates returns the ordered search paths for d under root:
// root/library/version.ext, root/library/original, root/library/basename,
// root/basename. Duplicates and paths with missing parts are dropped.
func Candidates(root string, d Descriptor) []string {
	var out []string
	seen := map[string]bool{}
	add := func(parts ...string) {
		for _, p := range parts {
			if strings.TrimSpace(p) == "" {
				return
			}
		}
		p := filepath.Join(append([]string{root}, parts...)...)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	ext := strings.TrimPrefix(d.Extension, ".")
	if d.VersionName != "" && ext != "" {
		add(d.LibraryName, d.VersionName+"."+ext)
	}
	original := filepath.FromSlash(strings.ReplaceAll(d.OriginalFileName, `\`, "/"))
	add(d.LibraryName, original)
	add(d.LibraryName, Basename(d.OriginalFileName))
	add(Basename(d.OriginalFileName))
	return out
}

// Locator finds attachment files under a root directory.
type Locator struct {
	root  string
	index *FileIndex
}

// NewLocator creates a locator. With a nil index every candidate is
// checked with os.Stat.
func NewLocator(root string, index *FileIndex) *Locator {
	return &Locator{root: root, index: index}
}

// Locate returns the first existing candidate path, or a *NotFoundError.
func (l *Locator) Locate(d Descriptor) (string, error) {
	candidates := Candidates(l.root, d)
	for _, c := range candidates {
		if l.index != nil {
			if p, ok := l.index.Resolve(c); ok {
				return p, nil
			}
			continue
		}
		if Exists(c) {
			return c, nil
		}
	}
	return "", &NotFoundError{Candidates: candidates}
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
