// Package store provides the target platform persistence layer: entity
// creation with durable import-id mappings, and the lookups the importer
// resolves identities through.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lherron/hlmigrate/internal/db"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
)

// ErrNotFound is returned by Get-style lookups for missing rows.
var ErrNotFound = errors.New("not found")

// ErrAlreadyMapped is returned when a create would write a second mapping
// for the same (family, import id). The whole create is rolled back.
var ErrAlreadyMapped = errors.New("import id already mapped")

// Store is the root store that provides access to domain-specific stores.
type Store struct {
	db    *db.DB
	runID string
	stage string

	Users      *UserStore
	Groups     *GroupStore
	Categories *CategoryStore
	Posts      *PostStore
	Uploads    *UploadStore
	Permalinks *PermalinkStore
}

// New creates a new Store wrapping the given database connection. Creation
// events are attributed to runID; an empty runID disables event logging.
func New(database *db.DB, runID string) *Store {
	s := &Store{db: database, runID: runID}
	s.Users = &UserStore{store: s}
	s.Groups = &GroupStore{store: s}
	s.Categories = &CategoryStore{store: s}
	s.Posts = &PostStore{store: s}
	s.Uploads = &UploadStore{store: s}
	s.Permalinks = &PermalinkStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// RunID returns the import run the store attributes events to.
func (s *Store) RunID() string {
	return s.runID
}

// SetStage tags subsequent events with the pipeline stage name.
func (s *Store) SetStage(stage string) {
	s.stage = stage
}

// Events returns a writer for events logged outside a create, e.g. skips.
func (s *Store) Events() *events.Writer {
	return events.NewWriter(s.db.DB, s.runID).WithStage(s.stage)
}

// withTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) withTx(fn func(tx *sql.Tx, ew *events.Writer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ew := s.Events()
	if err := fn(tx, ew); err != nil {
		return err
	}

	return tx.Commit()
}

// insertMapping writes the durable (family, import id) -> target id fact.
func insertMapping(tx *sql.Tx, family domain.Family, importID string, targetID int64) error {
	res, err := tx.Exec(`
		INSERT INTO import_mappings (family, import_id, target_id)
		VALUES (?, ?, ?)
		ON CONFLICT (family, import_id) DO NOTHING
	`, string(family), importID, targetID)
	if err != nil {
		return fmt.Errorf("failed to write import mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check import mapping: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s:%s", ErrAlreadyMapped, family, importID)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
