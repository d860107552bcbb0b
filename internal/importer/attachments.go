package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/attach"
	"github.com/lherron/hlmigrate/internal/bulk"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/source"
)

// fileJob is one library file on its way from locate to bind.
type fileJob struct {
	key    string
	postID int64
	userID int64
	desc   attach.Descriptor
	path   string
}

func (j *fileJob) filename() string {
	if name := attach.Basename(j.desc.OriginalFileName); name != "" {
		return name
	}
	return j.desc.VersionName + "." + strings.TrimPrefix(j.desc.Extension, ".")
}

// importAttachments locates library files on disk and binds each to the
// post of its library entry. Location runs on a worker pool; binds run
// one at a time.
func (im *Importer) importAttachments(ctx context.Context) error {
	locator, err := im.locator()
	if err != nil {
		return err
	}
	fam := domain.FamilyLibraryEntryFile

	return im.walk(ctx, im.libraryFilesSpec(), fam, "LibraryEntryFileKey", func(ctx context.Context, recs []source.Record) error {
		jobs, err := im.fileJobs(ctx, recs)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		op := &bulk.Operation{Jobs: im.opts.AttachmentWorkers, ContinueOnError: true}
		res := bulk.Execute(ctx, op, jobs,
			func(j *fileJob) string { return j.key },
			func(_ context.Context, j *fileJob) error {
				p, err := locator.Locate(j.desc)
				if err != nil {
					return err
				}
				j.path = p
				return nil
			})
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, e := range res.Errors {
			fields := logrus.Fields{"library": jobs[e.Index].desc.LibraryName, "file": jobs[e.Index].filename()}
			var nf *attach.NotFoundError
			if errors.As(e.Error, &nf) {
				fields["path"] = nf.Candidates
				im.skipped(ctx, fam, e.Item, "file not found", fields)
				continue
			}
			im.failed(ctx, fam, e.Item, e.Error, fields)
		}

		for _, j := range jobs {
			if j.path == "" {
				continue
			}
			if err := im.bindFile(ctx, j); err != nil {
				return err
			}
		}
		return nil
	})
}

// fileJobs drops files that are already mapped or whose entry has no post.
func (im *Importer) fileJobs(ctx context.Context, recs []source.Record) ([]*fileJob, error) {
	fam := domain.FamilyLibraryEntryFile
	var jobs []*fileJob
	for _, rec := range recs {
		if err := rec.Require("LibraryEntryFileKey", "LibraryEntryKey", "CreatedByContactKey",
			"VersionName", "FileExtension", "OriginalFileName", "LibraryName"); err != nil {
			return nil, err
		}
		key := rec.Key("LibraryEntryFileKey")
		if done, err := im.alreadyMapped(ctx, fam, key); err != nil {
			return nil, err
		} else if done {
			continue
		}

		desc := attach.Descriptor{
			LibraryName:      rec.String("LibraryName"),
			VersionName:      rec.String("VersionName"),
			Extension:        rec.String("FileExtension"),
			OriginalFileName: rec.String("OriginalFileName"),
		}
		entry := rec.Key("LibraryEntryKey")
		postID, ok, err := im.reg.MapLegacyID(domain.FamilyLibraryEntry, entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			im.skipped(ctx, fam, key, "library entry not imported",
				logrus.Fields{"library": desc.LibraryName, "entry": entry})
			continue
		}
		userID, _, err := im.reg.UserID(rec.Key("CreatedByContactKey"))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &fileJob{key: key, postID: postID, userID: userID, desc: desc})
	}
	return jobs, nil
}

func (im *Importer) bindFile(ctx context.Context, j *fileJob) error {
	fam := domain.FamilyLibraryEntryFile
	fields := logrus.Fields{"library": j.desc.LibraryName, "path": j.path, "post_id": j.postID}

	res, err := im.binder.Bind(j.postID, j.userID, j.path, j.filename())
	if err != nil {
		if isFatal(err) {
			return err
		}
		im.failed(ctx, fam, j.key, err, fields)
		return nil
	}

	mapped, err := im.store.RecordMapping(fam, j.key, res.Upload.ID)
	if err != nil {
		return fmt.Errorf("failed to map file %s: %w", j.key, err)
	}
	im.reg.Record(fam, j.key, res.Upload.ID)

	if !mapped && !res.UploadCreated && !res.Appended && !res.Bound {
		im.existed(ctx, fam, j.key, res.Upload.ID)
		return nil
	}
	if err := im.store.Events().LogCreated(nil, fam, j.key, res.Upload.ID, map[string]interface{}{
		"post_id":        j.postID,
		"upload_created": res.UploadCreated,
		"appended":       res.Appended,
		"bound":          res.Bound,
	}); err != nil {
		im.log.WithError(err).Warn("failed to write event")
	}
	im.created(ctx, fam, j.key, res.Upload.ID)
	return nil
}

// locator builds the file index once per run. A missing root degrades to
// per-candidate stat calls, which will report every file as not found.
func (im *Importer) locator() (*attach.Locator, error) {
	root := im.opts.AttachmentsDir
	if _, err := os.Stat(root); err != nil {
		im.log.WithField("path", root).WithError(err).Warn("attachment root not readable")
		return attach.NewLocator(root, nil), nil
	}
	index, err := attach.BuildIndex(root)
	if err != nil {
		return nil, fmt.Errorf("failed to index attachments: %w", err)
	}
	im.log.WithFields(logrus.Fields{"path": root, "files": index.Len()}).Info("attachment index built")
	return attach.NewLocator(root, index), nil
}
