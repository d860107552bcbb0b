// Package importer sequences the legacy entity families into the target
// store. Stages run in dependency order since later stages resolve ids
// created by earlier ones.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/attach"
	"github.com/lherron/hlmigrate/internal/cursor"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/registry"
	"github.com/lherron/hlmigrate/internal/source"
	"github.com/lherron/hlmigrate/internal/store"
	"github.com/lherron/hlmigrate/internal/telemetry"
	"github.com/lherron/hlmigrate/internal/thread"
)

// Stage names in pipeline order.
const (
	StageGroups          = "groups"
	StageUsers           = "users"
	StageMemberships     = "memberships"
	StageCategories      = "categories"
	StageDiscussionPosts = "discussion_posts"
	StageLibraryEntries  = "library_entries"
	StageLibraryComments = "library_comments"
	StageAttachments     = "attachments"
	StageAnnouncements   = "announcements"
	StageBlogs           = "blogs"
	StageBlogComments    = "blog_comments"
	StagePermalinks      = "permalinks"
)

// AllStages lists every stage in the order it runs.
var AllStages = []string{
	StageGroups,
	StageUsers,
	StageMemberships,
	StageCategories,
	StageDiscussionPosts,
	StageLibraryEntries,
	StageLibraryComments,
	StageAttachments,
	StageAnnouncements,
	StageBlogs,
	StageBlogComments,
	StagePermalinks,
}

// Options configures an Importer.
type Options struct {
	BatchSize         int
	Stages            []string // empty means AllStages
	OrphanPolicy      thread.OrphanPolicy
	AttachmentsDir    string
	Uploads           attach.Config
	AttachmentWorkers int
	PermalinkBase     string
	DryRun            bool
	// Progress receives the per-stage progress line; nil disables it.
	Progress io.Writer
	// Diffs receives dry-run body diffs; nil disables them.
	Diffs io.Writer
}

// Importer runs the stages against one legacy source and one target store.
type Importer struct {
	src      *source.DB
	store    *store.Store
	reg      *registry.Registry
	resolver *thread.Resolver
	binder   *attach.Binder
	log      logrus.FieldLogger
	counters *telemetry.Counters
	opts     Options

	stats *Summary
	stage string
}

// New wires an importer. counters may be nil.
func New(src *source.DB, st *store.Store, reg *registry.Registry, log logrus.FieldLogger, counters *telemetry.Counters, opts Options) (*Importer, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if len(opts.Stages) == 0 {
		opts.Stages = AllStages
	}
	if err := ValidateStages(opts.Stages); err != nil {
		return nil, err
	}

	return &Importer{
		src:      src,
		store:    st,
		reg:      reg,
		resolver: thread.NewResolver(st, reg, opts.OrphanPolicy),
		binder:   attach.NewBinder(st, opts.Uploads, opts.DryRun, opts.Diffs),
		log:      log,
		counters: counters,
		opts:     opts,
		stats:    newSummary(st.RunID(), opts.DryRun),
	}, nil
}

// ValidateStages rejects unknown stage names.
func ValidateStages(stages []string) error {
	known := make(map[string]bool, len(AllStages))
	for _, s := range AllStages {
		known[s] = true
	}
	for _, s := range stages {
		if !known[s] {
			return fmt.Errorf("unknown stage %q", s)
		}
	}
	return nil
}

// Run executes the enabled stages in pipeline order. A stage error aborts
// the run; per-record failures are counted and logged.
func (im *Importer) Run(ctx context.Context) (*Summary, error) {
	enabled := make(map[string]bool, len(im.opts.Stages))
	for _, s := range im.opts.Stages {
		enabled[s] = true
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageGroups, im.importGroups},
		{StageUsers, im.importUsers},
		{StageMemberships, im.importMemberships},
		{StageCategories, im.importCategories},
		{StageDiscussionPosts, im.importDiscussionPosts},
		{StageLibraryEntries, im.importLibraryEntries},
		{StageLibraryComments, func(ctx context.Context) error { return im.importItemComments(ctx, false) }},
		{StageAttachments, im.importAttachments},
		{StageAnnouncements, im.importAnnouncements},
		{StageBlogs, im.importBlogs},
		{StageBlogComments, func(ctx context.Context) error { return im.importItemComments(ctx, true) }},
		{StagePermalinks, im.importPermalinks},
	}

	start := time.Now()
	for _, st := range stages {
		if !enabled[st.name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return im.stats, err
		}

		im.stage = st.name
		im.store.SetStage(st.name)
		im.log.WithField("stage", st.name).Info("stage started")

		stageStart := time.Now()
		if err := st.fn(ctx); err != nil {
			im.log.WithField("stage", st.name).WithError(err).Error("stage aborted")
			return im.stats, fmt.Errorf("stage %s: %w", st.name, err)
		}

		s := im.stats.stage(st.name)
		s.Duration = time.Since(stageStart).Round(time.Millisecond).String()
		im.log.WithFields(logrus.Fields{
			"stage":    st.name,
			"created":  s.Created,
			"existed":  s.Existed,
			"skipped":  s.Skipped,
			"warnings": s.Warnings,
			"failed":   s.Failed,
			"duration": s.Duration,
		}).Info("stage finished")
	}
	im.stats.Duration = time.Since(start).Round(time.Millisecond).String()
	return im.stats, nil
}

// pageFunc handles one page of records. Only stage-fatal errors are
// returned.
type pageFunc func(ctx context.Context, recs []source.Record) error

// walk pages through spec. When keyCol is set, pages whose keys are all
// mapped in family are skipped without touching individual records.
func (im *Importer) walk(ctx context.Context, spec cursor.Spec, family domain.Family, keyCol string, fn pageFunc) error {
	total, err := im.src.Count(ctx, countOf(spec), spec.Args...)
	if err != nil {
		return err
	}
	prog := newProgress(im.opts.Progress, im.stage, total)
	defer prog.finish()

	pager, err := cursor.New(im.src, spec)
	if err != nil {
		return err
	}

	return pager.Each(ctx, func(recs []source.Record) error {
		defer prog.add(len(recs))

		if keyCol != "" {
			keys := make([]string, len(recs))
			for i, r := range recs {
				keys[i] = r.Key(keyCol)
			}
			ids, all, err := im.reg.MappedBatch(family, keys)
			if err != nil {
				return err
			}
			if all {
				for _, k := range keys {
					im.existed(ctx, family, k, ids[k])
				}
				im.log.WithFields(logrus.Fields{
					"stage": im.stage,
					"page":  pager.Page(),
					"size":  len(recs),
				}).Debug("page already imported")
				return nil
			}
		}

		if err := fn(ctx, recs); err != nil {
			return err
		}
		if token, err := pager.Token(); err == nil && token != "" {
			im.log.WithFields(logrus.Fields{"stage": im.stage, "page": pager.Page(), "resume": token}).Debug("page done")
		}
		return nil
	})
}

// isFatal reports errors that must abort the stage rather than the record:
// context cancellation and schema mismatches.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, source.ErrMissingColumn)
}
