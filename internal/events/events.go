// Package events records what happened to each legacy record during an
// import run: created, existed, skipped, warning or failed.
package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lherron/hlmigrate/internal/domain"
)

// Type classifies an import event.
type Type string

const (
	Created Type = "created"
	Existed Type = "existed"
	Skipped Type = "skipped"
	Warning Type = "warning"
	Failed  Type = "failed"
)

// Event is one row of the import event log.
type Event struct {
	ID        int64                  `json:"id"`
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Stage     string                 `json:"stage"`
	Family    domain.Family          `json:"family,omitempty"`
	ImportID  string                 `json:"import_id,omitempty"`
	Type      Type                   `json:"event_type"`
	TargetID  *int64                 `json:"target_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Writer handles writing events to the event log. A writer without a run id
// discards everything.
type Writer struct {
	db    *sql.DB
	runID string
	stage string
}

// NewWriter creates a new event writer for a run
func NewWriter(db *sql.DB, runID string) *Writer {
	return &Writer{db: db, runID: runID}
}

// WithStage returns a copy of the writer that tags events with stage.
func (w *Writer) WithStage(stage string) *Writer {
	cp := *w
	cp.stage = stage
	return &cp
}

// LogEvent writes an event to the event log
func (w *Writer) LogEvent(tx *sql.Tx, event *Event) error {
	if w == nil || w.runID == "" {
		return nil
	}

	stage := event.Stage
	if stage == "" {
		stage = w.stage
	}

	var payload interface{}
	if len(event.Payload) > 0 {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payload = string(b)
	}

	var family interface{}
	if event.Family != "" {
		family = string(event.Family)
	}
	var importID interface{}
	if event.ImportID != "" {
		importID = event.ImportID
	}

	query := `
		INSERT INTO import_events (run_id, stage, family, import_id, event_type, target_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := w.getExecutor(tx).Exec(query, w.runID, stage, family, importID, string(event.Type), event.TargetID, payload)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// LogCreated logs the creation of the target entity for a legacy record.
func (w *Writer) LogCreated(tx *sql.Tx, family domain.Family, importID string, targetID int64, payload map[string]interface{}) error {
	return w.LogEvent(tx, &Event{
		Family:   family,
		ImportID: importID,
		Type:     Created,
		TargetID: &targetID,
		Payload:  payload,
	})
}

// LogExisted logs a record that was already imported.
func (w *Writer) LogExisted(family domain.Family, importID string, targetID int64) error {
	return w.LogEvent(nil, &Event{Family: family, ImportID: importID, Type: Existed, TargetID: &targetID})
}

// LogSkipped logs a record that was deliberately not imported.
func (w *Writer) LogSkipped(family domain.Family, importID, reason string, context map[string]interface{}) error {
	return w.LogEvent(nil, &Event{Family: family, ImportID: importID, Type: Skipped, Payload: withReason(reason, context)})
}

// LogWarning logs a degraded import, e.g. a missing category.
func (w *Writer) LogWarning(family domain.Family, importID, reason string, context map[string]interface{}) error {
	return w.LogEvent(nil, &Event{Family: family, ImportID: importID, Type: Warning, Payload: withReason(reason, context)})
}

// LogFailed logs a record whose creation failed.
func (w *Writer) LogFailed(family domain.Family, importID string, cause error, context map[string]interface{}) error {
	return w.LogEvent(nil, &Event{Family: family, ImportID: importID, Type: Failed, Payload: withReason(cause.Error(), context)})
}

func withReason(reason string, context map[string]interface{}) map[string]interface{} {
	payload := make(map[string]interface{}, len(context)+1)
	for k, v := range context {
		payload[k] = v
	}
	payload["reason"] = reason
	return payload
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
