package attach

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCandidates(t *testing.T) {
	root := "/att"
	got := Candidates(root, Descriptor{
		LibraryName:      "Bylaws",
		VersionName:      "v2",
		Extension:        ".pdf",
		OriginalFileName: `C:\docs\bylaws.pdf`,
	})
	assert.Equal(t, []string{
		filepath.Join("/att", "Bylaws", "v2.pdf"),
		filepath.Join("/att", "Bylaws", "C:", "docs", "bylaws.pdf"),
		filepath.Join("/att", "Bylaws", "bylaws.pdf"),
		filepath.Join("/att", "bylaws.pdf"),
	}, got)

	// A plain file name collapses candidates 2 and 3.
	got = Candidates(root, Descriptor{LibraryName: "Bylaws", OriginalFileName: "bylaws.pdf"})
	assert.Equal(t, []string{
		filepath.Join("/att", "Bylaws", "bylaws.pdf"),
		filepath.Join("/att", "bylaws.pdf"),
	}, got)
}

func TestBasename(t *testing.T) {
	assert.Equal(t, "a.pdf", Basename(`x\y\a.pdf`))
	assert.Equal(t, "a.pdf", Basename("x/a.pdf"))
	assert.Equal(t, "a.pdf", Basename("a.pdf"))
}

func TestLocate_SecondCandidate(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Bylaws", "bylaws.pdf"), "pdf")

	d := Descriptor{LibraryName: "Bylaws", VersionName: "v2", Extension: "pdf", OriginalFileName: "bylaws.pdf"}

	p, err := NewLocator(root, nil).Locate(d)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Bylaws", "bylaws.pdf"), p)

	idx, err := BuildIndex(root)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	p, err = NewLocator(root, idx).Locate(d)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Bylaws", "bylaws.pdf"), p)
}

func TestLocate_FirstCandidateWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Lib", "v1.docx"), "primary")
	writeFile(t, filepath.Join(root, "report.docx"), "fallback")

	p, err := NewLocator(root, nil).Locate(Descriptor{
		LibraryName: "Lib", VersionName: "v1", Extension: "docx", OriginalFileName: "report.docx",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Lib", "v1.docx"), p)
}

func TestLocate_IndexIgnoresCase(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bylaws", "BYLAWS.PDF"), "pdf")

	idx, err := BuildIndex(root)
	require.NoError(t, err)

	p, err := NewLocator(root, idx).Locate(Descriptor{LibraryName: "Bylaws", OriginalFileName: "bylaws.pdf"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "bylaws", "BYLAWS.PDF"), p)
}

func TestLocate_NotFound(t *testing.T) {
	root := t.TempDir()
	d := Descriptor{LibraryName: "Lib", VersionName: "v1", Extension: "pdf", OriginalFileName: `a\b.pdf`}

	_, err := NewLocator(root, nil).Locate(d)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Len(t, nf.Candidates, 4)
	assert.Contains(t, err.Error(), filepath.Join(root, "b.pdf"))
}
