package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/attach"
	"github.com/lherron/hlmigrate/internal/config"
	"github.com/lherron/hlmigrate/internal/db"
	"github.com/lherron/hlmigrate/internal/events"
	"github.com/lherron/hlmigrate/internal/registry"
	"github.com/lherron/hlmigrate/internal/source"
	"github.com/lherron/hlmigrate/internal/store"
	"github.com/lherron/hlmigrate/internal/telemetry"
	"github.com/lherron/hlmigrate/internal/thread"
)

// Output names where a run writes besides the logger. Nil writers are
// disabled.
type Output struct {
	Progress io.Writer
	Diffs    io.Writer
	Metrics  io.Writer
}

// Run connects to the legacy source described by cfg and imports it into
// the target database.
func Run(ctx context.Context, cfg *config.Config, log *logrus.Logger, out Output) (*Summary, error) {
	src, err := source.Open(ctx, source.Options{
		Driver:          cfg.SourceDriver,
		Host:            cfg.SourceHost,
		Port:            cfg.SourcePort,
		Database:        cfg.SourceDB,
		User:            cfg.SourceUser,
		Password:        cfg.SourcePassword,
		Prefix:          cfg.TablePrefix,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return RunWith(ctx, src, cfg, log, out)
}

// RunWith imports from an open legacy source. In dry-run mode the target
// is copied first and the copy receives every write.
func RunWith(ctx context.Context, src *source.DB, cfg *config.Config, log *logrus.Logger, out Output) (*Summary, error) {
	policy, err := thread.ParseOrphanPolicy(cfg.OrphanPolicy)
	if err != nil {
		return nil, err
	}

	database, cleanup, err := openTarget(cfg.TargetDBPath, cfg.DryRun)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	runID := uuid.NewString()
	if err := events.StartRun(database.DB, runID, cfg.DryRun); err != nil {
		return nil, err
	}
	rlog := log.WithField("run_id", runID)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, metricsOut(out.Metrics))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			rlog.WithError(err).Warn("failed to flush telemetry")
		}
	}()
	counters, err := telemetry.NewCounters()
	if err != nil {
		return nil, err
	}

	st := store.New(database, runID)
	im, err := New(src, st, registry.New(st, cfg.UnknownUserID), rlog, counters, Options{
		BatchSize:         cfg.BatchSize,
		Stages:            cfg.Stages,
		OrphanPolicy:      policy,
		AttachmentsDir:    cfg.AttachmentsDir,
		Uploads:           attach.Config{UploadsDir: cfg.UploadsDir, MaxMB: int64(cfg.UploadsMaxMB)},
		AttachmentWorkers: cfg.AttachmentWorkers,
		PermalinkBase:     cfg.PermalinkBase,
		DryRun:            cfg.DryRun,
		Progress:          out.Progress,
		Diffs:             out.Diffs,
	})
	if err != nil {
		_ = events.FinishRun(database.DB, runID, "failed", nil)
		return nil, err
	}

	rlog.WithFields(logrus.Fields{"target": cfg.TargetDBPath, "dry_run": cfg.DryRun}).Info("import started")
	summary, runErr := im.Run(ctx)

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	if err := events.FinishRun(database.DB, runID, status, summary); err != nil {
		rlog.WithError(err).Warn("failed to record run result")
	}
	if runErr != nil {
		return summary, runErr
	}
	rlog.WithField("duration", summary.Duration).Info("import finished")
	return summary, nil
}

// openTarget opens and migrates the target. For dry runs the target is
// copied into a temp directory first; only the copy is migrated and
// written, and cleanup removes it.
func openTarget(path string, dryRun bool) (*db.DB, func(), error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { database.Close() }

	if dryRun {
		dir, err := os.MkdirTemp("", "hlmigrate-dryrun-")
		if err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to create dry-run directory: %w", err)
		}
		copyPath := filepath.Join(dir, "target.db")
		err = database.CopyTo(copyPath)
		database.Close()
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		if database, err = db.Open(copyPath); err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		cleanup = func() {
			database.Close()
			os.RemoveAll(dir)
		}
	}

	if err := database.Migrate(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to migrate target: %w", err)
	}
	return database, cleanup, nil
}

func metricsOut(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
