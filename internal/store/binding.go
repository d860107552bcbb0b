package store

import "github.com/lherron/hlmigrate/internal/domain"

// The methods below expose post and upload operations on the root store so
// it can be handed to the attachment binder as a single dependency.

func (s *Store) GetPost(id int64) (*domain.Post, error) {
	return s.Posts.Get(id)
}

func (s *Store) UpdatePostRaw(id int64, raw string) error {
	return s.Posts.UpdateRaw(id, raw)
}

func (s *Store) UploadBySHA256(sum string) (*domain.Upload, bool, error) {
	return s.Uploads.BySHA256(sum)
}

func (s *Store) CreateUpload(u *domain.Upload) (*domain.Upload, bool, error) {
	return s.Uploads.Create(u)
}

func (s *Store) BindingExists(postID, uploadID int64) (bool, error) {
	return s.Uploads.BindingExists(postID, uploadID)
}

func (s *Store) Bind(postID, uploadID int64) (bool, error) {
	return s.Uploads.Bind(postID, uploadID)
}

func (s *Store) RenderUploadReference(u *domain.Upload) string {
	return RenderUploadReference(u)
}

// RecordMapping writes a mapping for an entity that was not created by this
// record, e.g. an attachment whose upload was deduplicated. Existing mappings
// are kept; created reports whether a row was written.
func (s *Store) RecordMapping(family domain.Family, importID string, targetID int64) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO import_mappings (family, import_id, target_id)
		VALUES (?, ?, ?)
		ON CONFLICT (family, import_id) DO NOTHING
	`, string(family), importID, targetID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
