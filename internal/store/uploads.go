package store

import (
	"database/sql"
	"fmt"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"

	"github.com/lherron/hlmigrate/internal/domain"
)

// UploadStore handles uploads and their bindings to posts.
type UploadStore struct {
	store *Store
}

// BySHA256 returns the upload with the given checksum, if any.
func (us *UploadStore) BySHA256(sum string) (*domain.Upload, bool, error) {
	var u domain.Upload
	var ext, mime sql.NullString
	err := us.store.db.QueryRow(`
		SELECT id, user_id, original_filename, extension, mime_type, filesize, sha256, url
		FROM uploads WHERE sha256 = ?
	`, sum).Scan(&u.ID, &u.UserID, &u.OriginalFilename, &ext, &mime, &u.SizeBytes, &u.SHA256, &u.URL)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up upload: %w", err)
	}
	u.Extension = ext.String
	u.MimeType = mime.String
	return &u, true, nil
}

// Create inserts an upload. If an upload with the same checksum exists it is
// returned instead and created is false.
func (us *UploadStore) Create(u *domain.Upload) (*domain.Upload, bool, error) {
	if u.SHA256 == "" || u.URL == "" {
		return nil, false, fmt.Errorf("upload requires sha256 and url")
	}

	res, err := us.store.db.Exec(`
		INSERT INTO uploads (user_id, original_filename, extension, mime_type, filesize, sha256, url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sha256) DO NOTHING
	`, u.UserID, u.OriginalFilename, u.Extension, u.MimeType, u.SizeBytes, u.SHA256, u.URL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create upload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, false, fmt.Errorf("failed to get upload ID: %w", err)
		}
		out := *u
		out.ID = id
		return &out, true, nil
	}

	existing, ok, err := us.BySHA256(u.SHA256)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("upload %s vanished after conflict", u.SHA256)
	}
	return existing, false, nil
}

// BindingExists reports whether the (post, upload) fact exists.
func (us *UploadStore) BindingExists(postID, uploadID int64) (bool, error) {
	var n int
	err := us.store.db.QueryRow(
		"SELECT COUNT(*) FROM post_uploads WHERE post_id = ? AND upload_id = ?", postID, uploadID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check binding: %w", err)
	}
	return n > 0, nil
}

// Bind creates the (post, upload) fact. Returns false if it already existed.
func (us *UploadStore) Bind(postID, uploadID int64) (bool, error) {
	res, err := us.store.db.Exec(
		"INSERT INTO post_uploads (post_id, upload_id) VALUES (?, ?) ON CONFLICT (post_id, upload_id) DO NOTHING",
		postID, uploadID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to bind upload %d to post %d: %w", uploadID, postID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BindingCount returns how many times an upload is bound to a post.
func (us *UploadStore) BindingCount(postID, uploadID int64) (int, error) {
	var n int
	err := us.store.db.QueryRow(
		"SELECT COUNT(*) FROM post_uploads WHERE post_id = ? AND upload_id = ?", postID, uploadID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bindings: %w", err)
	}
	return n, nil
}

var imageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "bmp": true, "svg": true,
}

// RenderUploadReference returns the markup a post body uses to reference an
// upload: an image embed for images, an attachment link otherwise.
func RenderUploadReference(u *domain.Upload) string {
	name := u.OriginalFilename
	if name == "" {
		name = path.Base(u.URL)
	}
	ext := strings.ToLower(strings.TrimPrefix(u.Extension, "."))
	if ext == "" {
		ext = strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	}
	if imageExtensions[ext] {
		return fmt.Sprintf("![%s](%s)", name, u.URL)
	}
	return fmt.Sprintf(`<a class="attachment" href="%s">%s</a> (%s)`,
		u.URL, html.EscapeString(name), humanize.Bytes(uint64(u.SizeBytes)))
}
