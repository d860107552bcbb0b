package events

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lherron/hlmigrate/internal/db"
	"github.com/lherron/hlmigrate/internal/domain"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestWriterLogsAndCounts(t *testing.T) {
	database := setupTestDB(t)
	if err := StartRun(database.DB, "run-1", false); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	w := NewWriter(database.DB, "run-1").WithStage("discussion_posts")

	tx, err := database.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := w.LogCreated(tx, domain.FamilyDiscussionPost, "P1", 10, map[string]interface{}{"topic_id": 3}); err != nil {
		t.Fatalf("LogCreated: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := w.LogSkipped(domain.FamilyDiscussionPost, "P2", "parent not found", map[string]interface{}{"subject": "Re: Hi"}); err != nil {
		t.Fatalf("LogSkipped: %v", err)
	}
	if err := w.LogWarning(domain.FamilyDiscussionPost, "P3", "category not mapped", nil); err != nil {
		t.Fatalf("LogWarning: %v", err)
	}
	if err := w.LogFailed(domain.FamilyDiscussionPost, "P4", errors.New("boom"), nil); err != nil {
		t.Fatalf("LogFailed: %v", err)
	}
	if err := w.LogExisted(domain.FamilyDiscussionPost, "P1", 10); err != nil {
		t.Fatalf("LogExisted: %v", err)
	}

	counts, err := CountsByType(database.DB, "run-1")
	if err != nil {
		t.Fatalf("CountsByType: %v", err)
	}
	for typ, want := range map[Type]int{Created: 1, Skipped: 1, Warning: 1, Failed: 1, Existed: 1} {
		if counts[typ] != want {
			t.Errorf("counts[%s] = %d, want %d", typ, counts[typ], want)
		}
	}

	evs, err := ForRecord(database.DB, "discussion_post", "P2")
	if err != nil {
		t.Fatalf("ForRecord: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event for P2, got %d", len(evs))
	}
	e := evs[0]
	if e.Stage != "discussion_posts" || e.Type != Skipped {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Payload["reason"] != "parent not found" || e.Payload["subject"] != "Re: Hi" {
		t.Errorf("unexpected payload: %v", e.Payload)
	}

	created, _ := ForRecord(database.DB, "discussion_post", "P1")
	if len(created) != 2 || created[0].TargetID == nil || *created[0].TargetID != 10 {
		t.Errorf("unexpected P1 events: %+v", created)
	}
}

func TestWriterWithoutRunIsNoop(t *testing.T) {
	database := setupTestDB(t)
	w := NewWriter(database.DB, "")
	if err := w.LogSkipped(domain.FamilyUser, "C1", "no email", nil); err != nil {
		t.Fatalf("LogSkipped: %v", err)
	}

	var n int
	if err := database.QueryRow("SELECT COUNT(*) FROM import_events").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no events, got %d", n)
	}

	var nilWriter *Writer
	if err := nilWriter.LogEvent(nil, &Event{Type: Created}); err != nil {
		t.Errorf("nil writer should be a no-op, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	database := setupTestDB(t)

	last, err := LastRun(database.DB)
	if err != nil || last != nil {
		t.Fatalf("LastRun on empty db = %v, %v", last, err)
	}

	if err := StartRun(database.DB, "run-a", true); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := FinishRun(database.DB, "run-a", RunCompleted, map[string]int{"posts": 3}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	last, err = LastRun(database.DB)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if last.ID != "run-a" || last.Status != RunCompleted || !last.DryRun || last.FinishedAt == nil {
		t.Errorf("unexpected run: %+v", last)
	}
	if string(last.Summary) != `{"posts":3}` {
		t.Errorf("summary = %s", last.Summary)
	}
}
