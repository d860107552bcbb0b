package attach

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lherron/hlmigrate/internal/domain"
)

// BindStore is the part of the target store the binder writes through.
type BindStore interface {
	GetPost(id int64) (*domain.Post, error)
	UpdatePostRaw(id int64, raw string) error
	UploadBySHA256(sum string) (*domain.Upload, bool, error)
	CreateUpload(u *domain.Upload) (*domain.Upload, bool, error)
	BindingExists(postID, uploadID int64) (bool, error)
	Bind(postID, uploadID int64) (bool, error)
	RenderUploadReference(u *domain.Upload) string
}

// BindResult reports which side effects a bind performed.
type BindResult struct {
	Upload        *domain.Upload
	UploadCreated bool
	Appended      bool // reference appended to the post body
	Bound         bool // binding fact created
}

// Binder stores located files as uploads and attaches them to posts.
// Binds to the same post are serialized.
type Binder struct {
	store  BindStore
	cfg    Config
	dryRun bool
	diffs  io.Writer

	mu    sync.Mutex
	posts map[int64]*sync.Mutex
}

// NewBinder creates a binder. In dry-run mode files are not copied into
// the uploads directory and body changes are written to diffs as unified
// diffs.
func NewBinder(store BindStore, cfg Config, dryRun bool, diffs io.Writer) *Binder {
	return &Binder{
		store:  store,
		cfg:    cfg,
		dryRun: dryRun,
		diffs:  diffs,
		posts:  make(map[int64]*sync.Mutex),
	}
}

func (b *Binder) lock(postID int64) func() {
	b.mu.Lock()
	m, ok := b.posts[postID]
	if !ok {
		m = &sync.Mutex{}
		b.posts[postID] = m
	}
	b.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Bind attaches the file at path to postID. The body append and the
// binding fact are checked independently, so a bind interrupted between
// the two is completed on the next run.
func (b *Binder) Bind(postID, userID int64, path, filename string) (*BindResult, error) {
	unlock := b.lock(postID)
	defer unlock()

	upload, created, err := b.upload(userID, path, filename)
	if err != nil {
		return nil, err
	}
	res := &BindResult{Upload: upload, UploadCreated: created}

	post, err := b.store.GetPost(postID)
	if err != nil {
		return nil, err
	}
	ref := b.store.RenderUploadReference(upload)
	if !strings.Contains(post.Raw, ref) {
		raw := post.Raw + "\n\n" + ref
		if b.dryRun && b.diffs != nil {
			if err := writeDiff(b.diffs, postID, post.Raw, raw); err != nil {
				return nil, err
			}
		}
		if err := b.store.UpdatePostRaw(postID, raw); err != nil {
			return nil, err
		}
		res.Appended = true
	}

	exists, err := b.store.BindingExists(postID, upload.ID)
	if err != nil {
		return nil, err
	}
	if !exists {
		bound, err := b.store.Bind(postID, upload.ID)
		if err != nil {
			return nil, err
		}
		res.Bound = bound
	}
	return res, nil
}

// upload returns the upload for the file's content, storing it if new.
func (b *Binder) upload(userID int64, path, filename string) (*domain.Upload, bool, error) {
	size, sum, err := Checksum(path)
	if err != nil {
		return nil, false, err
	}
	if err := ValidateSize(size, b.cfg.MaxMB); err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}

	if existing, ok, err := b.store.UploadBySHA256(sum); err != nil {
		return nil, false, err
	} else if ok {
		return existing, false, nil
	}

	if filename == "" {
		filename = filepath.Base(path)
	}
	rel := RelativePath(filename)
	if !b.dryRun {
		_, copied, err := CopyFile(path, AbsolutePath(b.cfg.UploadsDir, rel))
		if err != nil {
			return nil, false, err
		}
		if copied != sum {
			_ = DeleteFile(b.cfg.UploadsDir, rel)
			return nil, false, fmt.Errorf("%s changed while copying", path)
		}
	}

	u, created, err := b.store.CreateUpload(&domain.Upload{
		UserID:           userID,
		OriginalFilename: filename,
		Extension:        strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		MimeType:         DetectMimeType(filename),
		SizeBytes:        size,
		SHA256:           sum,
		URL:              URL(rel),
	})
	if err != nil {
		if !b.dryRun {
			_ = DeleteFile(b.cfg.UploadsDir, rel)
		}
		return nil, false, err
	}
	if !created && !b.dryRun {
		// Lost a race with another bind of the same content.
		_ = DeleteFile(b.cfg.UploadsDir, rel)
	}
	return u, created, nil
}

func writeDiff(w io.Writer, postID int64, before, after string) error {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: fmt.Sprintf("post/%d", postID),
		ToFile:   fmt.Sprintf("post/%d", postID),
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Errorf("failed to diff post %d: %w", postID, err)
	}
	_, err = io.WriteString(w, text)
	return err
}
