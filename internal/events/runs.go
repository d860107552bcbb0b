package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lherron/hlmigrate/internal/domain"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one invocation of the import pipeline.
type Run struct {
	ID         string          `json:"id"`
	StartedAt  string          `json:"started_at"`
	FinishedAt *string         `json:"finished_at,omitempty"`
	Status     string          `json:"status"`
	DryRun     bool            `json:"dry_run"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

// StartRun inserts a running import_runs row.
func StartRun(db *sql.DB, runID string, dryRun bool) error {
	_, err := db.Exec("INSERT INTO import_runs (id, dry_run) VALUES (?, ?)", runID, dryRun)
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun marks a run completed or failed and stores its summary.
func FinishRun(db *sql.DB, runID, status string, summary interface{}) error {
	var raw interface{}
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal run summary: %w", err)
		}
		raw = string(b)
	}
	_, err := db.Exec(`
		UPDATE import_runs
		SET status = ?, summary = ?, finished_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
		WHERE id = ?
	`, status, raw, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil when none exist.
func LastRun(db *sql.DB) (*Run, error) {
	var r Run
	var summary sql.NullString
	var finished sql.NullString
	err := db.QueryRow(`
		SELECT id, started_at, finished_at, status, dry_run, summary
		FROM import_runs ORDER BY started_at DESC, rowid DESC LIMIT 1
	`).Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &r.DryRun, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.String
	}
	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	return &r, nil
}

// CountsByType returns event counts per type for a run; an empty runID
// counts across all runs.
func CountsByType(db *sql.DB, runID string) (map[Type]int, error) {
	query := "SELECT event_type, COUNT(*) FROM import_events"
	var args []interface{}
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " GROUP BY event_type"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	out := map[Type]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		out[Type(t)] = n
	}
	return out, rows.Err()
}

// ForRecord returns every event logged for one legacy record, oldest first.
func ForRecord(db *sql.DB, family, importID string) ([]Event, error) {
	rows, err := db.Query(`
		SELECT id, run_id, timestamp, stage, COALESCE(family, ''), COALESCE(import_id, ''),
		       event_type, target_id, payload
		FROM import_events
		WHERE family = ? AND import_id = ?
		ORDER BY id
	`, family, importID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts, fam, typ string
		var target sql.NullInt64
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &ts, &e.Stage, &fam, &e.ImportID, &typ, &target, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Family = domain.Family(fam)
		e.Type = Type(typ)
		e.Timestamp = parseTimestamp(ts)
		if target.Valid {
			id := target.Int64
			e.TargetID = &id
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload of event %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
