package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/telemetry"
)

// StageStats counts record outcomes for one stage.
type StageStats struct {
	Created  int    `json:"created" yaml:"created"`
	Existed  int    `json:"existed" yaml:"existed"`
	Skipped  int    `json:"skipped" yaml:"skipped"`
	Warnings int    `json:"warnings" yaml:"warnings"`
	Failed   int    `json:"failed" yaml:"failed"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Summary is the result of one pipeline run.
type Summary struct {
	RunID    string                 `json:"run_id" yaml:"run_id"`
	DryRun   bool                   `json:"dry_run" yaml:"dry_run"`
	Stages   map[string]*StageStats `json:"stages" yaml:"stages"`
	Order    []string               `json:"-" yaml:"-"`
	Duration string                 `json:"duration,omitempty" yaml:"duration,omitempty"`
}

func newSummary(runID string, dryRun bool) *Summary {
	return &Summary{RunID: runID, DryRun: dryRun, Stages: map[string]*StageStats{}}
}

func (s *Summary) stage(name string) *StageStats {
	st, ok := s.Stages[name]
	if !ok {
		st = &StageStats{}
		s.Stages[name] = st
		s.Order = append(s.Order, name)
	}
	return st
}

// Totals sums every stage.
func (s *Summary) Totals() StageStats {
	var t StageStats
	for _, st := range s.Stages {
		t.Created += st.Created
		t.Existed += st.Existed
		t.Skipped += st.Skipped
		t.Warnings += st.Warnings
		t.Failed += st.Failed
	}
	return t
}

// Rows returns one table row per stage in run order.
func (s *Summary) Rows() [][]string {
	rows := make([][]string, 0, len(s.Order))
	for _, name := range s.Order {
		st := s.Stages[name]
		rows = append(rows, []string{
			name,
			humanize.Comma(int64(st.Created)),
			humanize.Comma(int64(st.Existed)),
			humanize.Comma(int64(st.Skipped)),
			humanize.Comma(int64(st.Warnings)),
			humanize.Comma(int64(st.Failed)),
			st.Duration,
		})
	}
	return rows
}

// SummaryHeaders labels the columns of Rows.
var SummaryHeaders = []string{"STAGE", "CREATED", "EXISTED", "SKIPPED", "WARNINGS", "FAILED", "DURATION"}

// progress prints "\rstage: n/total (rate/s)" lines.
type progress struct {
	w     io.Writer
	stage string
	total int64
	done  int64
	start time.Time
}

func newProgress(w io.Writer, stage string, total int64) *progress {
	return &progress{w: w, stage: stage, total: total, start: time.Now()}
}

func (p *progress) add(n int) {
	if p.w == nil {
		return
	}
	p.done += int64(n)
	rate := float64(p.done) / time.Since(p.start).Seconds()
	fmt.Fprintf(p.w, "\r%s: %s/%s (%s/s)", p.stage,
		humanize.Comma(p.done), humanize.Comma(p.total), humanize.FormatFloat("#,###.", rate))
}

func (p *progress) finish() {
	if p.w != nil && p.done > 0 {
		fmt.Fprint(p.w, "\r\033[K")
	}
}

// The outcome helpers below keep stats, telemetry, the logger and the
// event log in step. Created events are written by the store inside the
// creating transaction.

func (im *Importer) created(ctx context.Context, family domain.Family, key string, targetID int64) {
	im.stats.stage(im.stage).Created++
	im.counters.Add(ctx, string(family), telemetry.OutcomeCreated)
	im.log.WithFields(logrus.Fields{
		"stage": im.stage, "family": family, "import_id": key, "target_id": targetID,
	}).Debug("created")
}

func (im *Importer) existed(ctx context.Context, family domain.Family, key string, targetID int64) {
	im.stats.stage(im.stage).Existed++
	im.counters.Add(ctx, string(family), telemetry.OutcomeExisted)
	if err := im.store.Events().LogExisted(family, key, targetID); err != nil {
		im.log.WithError(err).Warn("failed to write event")
	}
}

func (im *Importer) skipped(ctx context.Context, family domain.Family, key, reason string, fields logrus.Fields) {
	im.stats.stage(im.stage).Skipped++
	im.counters.Add(ctx, string(family), telemetry.OutcomeSkipped)
	im.log.WithFields(fields).WithFields(logrus.Fields{
		"stage": im.stage, "family": family, "import_id": key,
	}).Warn("skipped: " + reason)
	if err := im.store.Events().LogSkipped(family, key, reason, fields); err != nil {
		im.log.WithError(err).Warn("failed to write event")
	}
}

func (im *Importer) warn(family domain.Family, key, reason string, fields logrus.Fields) {
	im.stats.stage(im.stage).Warnings++
	im.log.WithFields(fields).WithFields(logrus.Fields{
		"stage": im.stage, "family": family, "import_id": key,
	}).Warn(reason)
	if err := im.store.Events().LogWarning(family, key, reason, fields); err != nil {
		im.log.WithError(err).Warn("failed to write event")
	}
}

func (im *Importer) failed(ctx context.Context, family domain.Family, key string, cause error, fields logrus.Fields) {
	im.stats.stage(im.stage).Failed++
	im.counters.Add(ctx, string(family), telemetry.OutcomeFailed)
	im.log.WithFields(fields).WithFields(logrus.Fields{
		"stage": im.stage, "family": family, "import_id": key,
	}).WithError(cause).Error("failed")
	if err := im.store.Events().LogFailed(family, key, cause, fields); err != nil {
		im.log.WithError(err).Warn("failed to write event")
	}
}
