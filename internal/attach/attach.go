// Package attach locates legacy attachment files and binds them to imported
// posts. Stored uploads live under uploads_dir/original/<uuid><ext>.
package attach

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Config holds upload storage configuration.
type Config struct {
	UploadsDir string // Base directory for stored uploads
	MaxMB      int64  // Maximum upload size in MB (0 = unlimited)
}

// RelativePath returns the stored path of a new upload, relative to the
// uploads directory, e.g. original/<uuid>.pdf
func RelativePath(filename string) string {
	return path.Join("original", uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
}

// URL returns the public url of a stored upload.
func URL(relativePath string) string {
	return "/uploads/" + filepath.ToSlash(relativePath)
}

// AbsolutePath returns the absolute path for a stored upload.
func AbsolutePath(uploadsDir, relativePath string) string {
	return filepath.Join(uploadsDir, filepath.FromSlash(relativePath))
}

// CopyFile copies a file from src to dst, returning size and checksum.
func CopyFile(src, dst string) (size int64, checksum string, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open source: %w", err)
	}
	defer srcFile.Close()

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	dstFile, err := os.Create(dst)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create destination: %w", err)
	}
	defer dstFile.Close()

	// Copy with checksum computation
	hasher := sha256.New()
	multiWriter := io.MultiWriter(dstFile, hasher)

	size, err = io.Copy(multiWriter, srcFile)
	if err != nil {
		return 0, "", fmt.Errorf("failed to copy file: %w", err)
	}

	checksum = hex.EncodeToString(hasher.Sum(nil))
	return size, checksum, nil
}

// Checksum returns the size and sha256 of a file without copying it.
func Checksum(src string) (size int64, checksum string, err error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	hasher := sha256.New()
	size, err = io.Copy(hasher, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash %s: %w", src, err)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// DetectMimeType attempts to detect MIME type from filename extension.
// Falls back to application/octet-stream if unknown.
func DetectMimeType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "application/octet-stream"
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}

	// Strip parameters like charset
	if idx := strings.IndexByte(mimeType, ';'); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	return mimeType
}

// ValidateSize rejects files larger than maxMB. Zero or negative means no
// limit.
func ValidateSize(size int64, maxMB int64) error {
	if maxMB <= 0 {
		return nil
	}
	if size > maxMB*1024*1024 {
		return fmt.Errorf("attachment size %s exceeds limit of %d MB", humanize.IBytes(uint64(size)), maxMB)
	}
	return nil
}

// DeleteFile removes a stored upload.
func DeleteFile(uploadsDir, relativePath string) error {
	absPath := AbsolutePath(uploadsDir, relativePath)
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}
