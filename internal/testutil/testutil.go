// Package testutil builds the target and legacy databases used by tests.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/lherron/hlmigrate/internal/db"
	"github.com/lherron/hlmigrate/internal/source"
)

// TempDB creates a migrated target database in a temp directory.
func TempDB(t *testing.T) (*db.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "target.db")

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	return database, dbPath
}

// legacySchema is the subset of the HigherLogic schema the importer reads.
var legacySchema = []string{
	`CREATE TABLE Contact (ContactKey TEXT PRIMARY KEY, EmailAddress TEXT, FirstName TEXT, LastName TEXT,
		CreatedOn TEXT, UserStatus TEXT)`,
	`CREATE TABLE ContactLoginDate (ContactKey TEXT, LoginDate TEXT)`,
	`CREATE TABLE Community (CommunityKey TEXT PRIMARY KEY, CommunityName TEXT, Description TEXT,
		CreatedByContactKey TEXT, CreatedOn TEXT)`,
	`CREATE TABLE CommunityMember (CommunityKey TEXT, ContactKey TEXT)`,
	`CREATE TABLE Discussion (DiscussionKey TEXT PRIMARY KEY, CommunityKey TEXT, DiscussionName TEXT)`,
	`CREATE TABLE DiscussionPost (DiscussionPostKey TEXT PRIMARY KEY, DiscussionKey TEXT, ContactKey TEXT,
		Subject TEXT, Body TEXT, PostType TEXT, ParentDiscussionPostKey TEXT, ThreadRootPostKey TEXT,
		CreatedOn TEXT, PinnedFlag INTEGER DEFAULT 0)`,
	`CREATE TABLE Library (LibraryKey TEXT PRIMARY KEY, LibraryName TEXT, DiscussionKey TEXT)`,
	`CREATE TABLE LibraryEntry (LibraryEntryKey TEXT PRIMARY KEY, LibraryKey TEXT, Title TEXT, Description TEXT,
		CreatedByContactKey TEXT, CreatedOn TEXT)`,
	`CREATE TABLE LibraryEntryFile (LibraryEntryFileKey TEXT PRIMARY KEY, LibraryEntryKey TEXT, VersionName TEXT,
		FileExtension TEXT, OriginalFileName TEXT, CreatedOn TEXT)`,
	`CREATE TABLE ItemComment (ItemCommentKey TEXT PRIMARY KEY, ItemKey TEXT, ParentItemCommentKey TEXT,
		ContactKey TEXT, Comment TEXT, CreatedOn TEXT)`,
	`CREATE TABLE Announcement (AnnouncementKey TEXT PRIMARY KEY, CommunityKey TEXT, AnnouncementTitle TEXT,
		AnnouncementText TEXT, CreatedByContactKey TEXT, CreatedOn TEXT)`,
	`CREATE TABLE Blog (BlogKey TEXT PRIMARY KEY, CommunityKey TEXT, BlogTitle TEXT, BlogText TEXT,
		ContactKey TEXT, CreatedOn TEXT)`,
}

// LegacyDB creates an empty sqlite database with the legacy table layout.
// Rows are inserted through the returned *sql.DB; the importer reads
// through the *source.DB.
func LegacyDB(t *testing.T) (*source.DB, *sql.DB) {
	t.Helper()
	_, raw := LegacyFile(t)
	return source.Wrap(raw, source.SQLite{}, "", 0), raw
}

// LegacyFile creates the legacy schema in a sqlite file and returns its
// path, for tests that go through source.Open.
func LegacyFile(t *testing.T) (string, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open legacy database: %v", err)
	}
	t.Cleanup(func() {
		raw.Close()
	})
	for _, ddl := range legacySchema {
		if _, err := raw.Exec(ddl); err != nil {
			t.Fatalf("Failed to create legacy table: %v", err)
		}
	}
	return path, raw
}

// Exec runs a statement against a fixture database.
func Exec(t *testing.T, d *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := d.Exec(query, args...); err != nil {
		t.Fatalf("Exec %q: %v", query, err)
	}
}

// WriteFile writes content to a file under dir, creating parents.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}
