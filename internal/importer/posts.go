package importer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/content"
	"github.com/lherron/hlmigrate/internal/cursor"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/source"
	"github.com/lherron/hlmigrate/internal/store"
	"github.com/lherron/hlmigrate/internal/thread"
)

// postFamily describes how rows of one legacy table become candidates.
type postFamily struct {
	family      domain.Family
	keyCol      string
	authorCol   string
	bodyCol     string
	categoryCol string
	pinnedCol   string // optional
	required    []string

	// isNew reports an opening post; nil means every row opens a topic.
	isNew   func(rec *source.Record) bool
	subject func(rec *source.Record) string
	parents []thread.ParentRef
	tags    func(rec *source.Record) []string
	// fields adds investigation context to log entries and events.
	fields func(rec *source.Record) logrus.Fields
}

func (im *Importer) importDiscussionPosts(ctx context.Context) error {
	fam := domain.FamilyDiscussionPost
	return im.importPosts(ctx, im.discussionPostsSpec(), postFamily{
		family:      fam,
		keyCol:      "DiscussionPostKey",
		authorCol:   "ContactKey",
		bodyCol:     "Body",
		categoryCol: "DiscussionKey",
		pinnedCol:   "PinnedFlag",
		required: []string{"DiscussionPostKey", "DiscussionKey", "ContactKey", "ParentDiscussionPostKey",
			"ThreadRootPostKey", "Subject", "Body", "PostType", "CreatedOn", "PinnedFlag", "DiscussionName"},
		isNew: func(rec *source.Record) bool { return rec.String("PostType") == "New" },
		subject: func(rec *source.Record) string {
			return rec.String("Subject")
		},
		parents: []thread.ParentRef{
			thread.Field(fam, "ParentDiscussionPostKey"),
			thread.Field(fam, "ThreadRootPostKey"),
		},
		fields: func(rec *source.Record) logrus.Fields {
			return logrus.Fields{
				"discussion": rec.String("DiscussionName"),
				"subject":    content.UnescapeTitle(rec.String("Subject")),
			}
		},
	})
}

func (im *Importer) importLibraryEntries(ctx context.Context) error {
	return im.importPosts(ctx, im.libraryEntriesSpec(), postFamily{
		family:      domain.FamilyLibraryEntry,
		keyCol:      "LibraryEntryKey",
		authorCol:   "CreatedByContactKey",
		bodyCol:     "Description",
		categoryCol: "DiscussionKey",
		required:    []string{"LibraryEntryKey", "CreatedByContactKey", "DiscussionKey", "Title", "Description", "CreatedOn", "LibraryName"},
		subject:     func(rec *source.Record) string { return rec.String("Title") },
		tags: func(rec *source.Record) []string {
			if tag := store.Slugify(rec.String("LibraryName")); tag != "" {
				return []string{tag}
			}
			return nil
		},
		fields: func(rec *source.Record) logrus.Fields {
			return logrus.Fields{
				"library": rec.String("LibraryName"),
				"subject": content.UnescapeTitle(rec.String("Title")),
			}
		},
	})
}

// importItemComments imports comments on library entries or, with blogs
// set, on blogs. A comment replies to its parent comment when it has one,
// else to the item itself.
func (im *Importer) importItemComments(ctx context.Context, blogs bool) error {
	item := domain.FamilyLibraryEntry
	if blogs {
		item = domain.FamilyBlog
	}
	fam := domain.FamilyItemComment
	return im.importPosts(ctx, im.itemCommentsSpec(blogs), postFamily{
		family:      fam,
		keyCol:      "ItemCommentKey",
		authorCol:   "ContactKey",
		bodyCol:     "Comment",
		categoryCol: "CategoryKey",
		required:    []string{"ItemCommentKey", "ItemKey", "ParentItemCommentKey", "ContactKey", "Comment", "CreatedOn", "ItemTitle", "CategoryKey"},
		isNew:       func(*source.Record) bool { return false },
		subject: func(rec *source.Record) string {
			return "Re: " + rec.String("ItemTitle")
		},
		parents: []thread.ParentRef{
			thread.Field(fam, "ParentItemCommentKey"),
			thread.Field(item, "ItemKey"),
		},
		fields: func(rec *source.Record) logrus.Fields {
			return logrus.Fields{
				"item":    rec.Key("ItemKey"),
				"subject": content.UnescapeTitle(rec.String("ItemTitle")),
			}
		},
	})
}

func (im *Importer) importAnnouncements(ctx context.Context) error {
	return im.importPosts(ctx, im.announcementsSpec(), postFamily{
		family:      domain.FamilyAnnouncement,
		keyCol:      "AnnouncementKey",
		authorCol:   "CreatedByContactKey",
		bodyCol:     "AnnouncementText",
		categoryCol: "CommunityKey",
		required:    []string{"AnnouncementKey", "CommunityKey", "CreatedByContactKey", "AnnouncementTitle", "AnnouncementText", "CreatedOn"},
		subject:     func(rec *source.Record) string { return rec.String("AnnouncementTitle") },
		tags:        func(*source.Record) []string { return []string{"announcement"} },
		fields: func(rec *source.Record) logrus.Fields {
			return logrus.Fields{"subject": content.UnescapeTitle(rec.String("AnnouncementTitle"))}
		},
	})
}

func (im *Importer) importBlogs(ctx context.Context) error {
	return im.importPosts(ctx, im.blogsSpec(), postFamily{
		family:      domain.FamilyBlog,
		keyCol:      "BlogKey",
		authorCol:   "ContactKey",
		bodyCol:     "BlogText",
		categoryCol: "CommunityKey",
		required:    []string{"BlogKey", "CommunityKey", "ContactKey", "BlogTitle", "BlogText", "CreatedOn"},
		subject:     func(rec *source.Record) string { return rec.String("BlogTitle") },
		tags:        func(*source.Record) []string { return []string{"blog"} },
		fields: func(rec *source.Record) logrus.Fields {
			return logrus.Fields{"subject": content.UnescapeTitle(rec.String("BlogTitle"))}
		},
	})
}

// importPosts walks one post family. Each page is reordered so in-page
// parents are created before their replies.
func (im *Importer) importPosts(ctx context.Context, spec cursor.Spec, pf postFamily) error {
	return im.walk(ctx, spec, pf.family, pf.keyCol, func(ctx context.Context, recs []source.Record) error {
		ordered := thread.OrderBatch(recs,
			func(r source.Record) string { return r.Key(pf.keyCol) },
			func(r source.Record) []string { return pf.sameFamilyParents(&r) },
		)
		for i := range ordered {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := ordered[i].Require(pf.required...); err != nil {
				return err
			}
			if err := im.importPost(ctx, &ordered[i], pf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (pf postFamily) sameFamilyParents(rec *source.Record) []string {
	var keys []string
	for _, ref := range pf.parents {
		if k, ok := ref(rec); ok && k.Family == pf.family {
			keys = append(keys, k.Key)
		}
	}
	return keys
}

func (im *Importer) importPost(ctx context.Context, rec *source.Record, pf postFamily) error {
	key := rec.Key(pf.keyCol)
	fields := logrus.Fields{}
	if pf.fields != nil {
		fields = pf.fields(rec)
	}

	if done, err := im.alreadyMapped(ctx, pf.family, key); err != nil {
		return err
	} else if done {
		return nil
	}

	userID, resolved, err := im.reg.UserID(rec.Key(pf.authorCol))
	if err != nil {
		return err
	}
	if !resolved {
		im.log.WithFields(fields).WithFields(logrus.Fields{
			"family": pf.family, "import_id": key, "author": rec.Key(pf.authorCol),
		}).Debug("author not mapped, using unknown user")
	}

	in := thread.Input{
		Base: domain.PostBase{
			Origin:    domain.OriginKey{Family: pf.family, Key: key},
			UserID:    userID,
			Raw:       content.Transform(rec.String(pf.bodyCol)),
			CreatedAt: rec.Time("CreatedOn"),
		},
		Record:      rec,
		IsNew:       pf.isNew == nil || pf.isNew(rec),
		CategoryKey: rec.Key(pf.categoryCol),
		Subject:     pf.subject(rec),
		Parents:     pf.parents,
		Pinned:      pf.pinnedCol != "" && rec.Bool(pf.pinnedCol),
	}
	if pf.tags != nil {
		in.Base.Tags = pf.tags(rec)
	}

	res, err := im.resolver.Resolve(in)
	if err != nil {
		return err
	}

	switch res.Kind {
	case thread.KindSkipped:
		im.skipped(ctx, pf.family, key, "parent not found", withTried(fields, res.Tried))
		return nil
	case thread.KindPromoted:
		im.warn(pf.family, key, "parent not found, promoted to new topic", withTried(fields, res.Tried))
	}
	if res.CategoryMissing {
		im.warn(pf.family, key, "category not mapped", withField(fields, "category", in.CategoryKey))
	}

	post, err := im.store.Posts.Create(res.Candidate)
	if err != nil {
		return im.createFailed(ctx, pf.family, key, err, fields)
	}
	im.reg.Record(pf.family, key, post.ID)
	for _, early := range im.resolver.Remember(in.Base.Origin, post) {
		im.warn(early.Family, early.Key, "ordering violation: reply was read before its parent",
			logrus.Fields{"parent": in.Base.Origin.String()})
	}
	im.created(ctx, pf.family, key, post.ID)
	return nil
}

func withTried(fields logrus.Fields, tried []domain.OriginKey) logrus.Fields {
	keys := make([]string, len(tried))
	for i, k := range tried {
		keys[i] = k.String()
	}
	return withField(fields, "tried", keys)
}

func withField(fields logrus.Fields, k string, v interface{}) logrus.Fields {
	out := make(logrus.Fields, len(fields)+1)
	for fk, fv := range fields {
		out[fk] = fv
	}
	out[k] = v
	return out
}
