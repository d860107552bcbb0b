package importer

import (
	"strings"

	"github.com/lherron/hlmigrate/internal/cursor"
)

// key casts a legacy key column to text. Keys are GUIDs on the production
// host and integers in some restored dumps; both page and map as strings.
func key(expr, alias string) string {
	return "CAST(" + expr + " AS CHAR(36)) AS " + alias
}

// sql expands {Table} placeholders to prefixed table names.
func (im *Importer) sql(q string) string {
	for _, t := range []string{
		"ContactLoginDate", "Contact", "CommunityMember", "Community", "DiscussionPost", "Discussion",
		"LibraryEntryFile", "LibraryEntry", "Library", "ItemComment", "Announcement", "Blog",
	} {
		q = strings.ReplaceAll(q, "{"+t+"}", im.src.Table(t))
	}
	return q
}

func (im *Importer) groupsSpec() cursor.Spec {
	return cursor.Spec{
		Family: "group",
		Select: im.sql(`SELECT ` + key("c.CommunityKey", "CommunityKey") + `, c.CommunityName, c.Description
			FROM {Community} c`),
		Order:    []string{"CommunityKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

const activeContacts = `c.EmailAddress IS NOT NULL AND c.EmailAddress <> ''
	AND (c.UserStatus IS NULL OR c.UserStatus <> 'Disabled')`

func (im *Importer) usersSpec() cursor.Spec {
	return cursor.Spec{
		Family: "user",
		Select: im.sql(`SELECT ` + key("c.ContactKey", "ContactKey") + `, c.EmailAddress, c.FirstName, c.LastName, c.CreatedOn,
			(SELECT MAX(l.LoginDate) FROM {ContactLoginDate} l WHERE l.ContactKey = c.ContactKey) AS LastLoginDate
			FROM {Contact} c
			WHERE ` + activeContacts),
		Order:    []string{"ContactKey"},
		Mode:     cursor.Offset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) membershipsSpec() cursor.Spec {
	return cursor.Spec{
		Family: "membership",
		Select: im.sql(`SELECT ` + key("m.CommunityKey", "CommunityKey") + `, ` + key("m.ContactKey", "ContactKey") + `
			FROM {CommunityMember} m`),
		Order:    []string{"CommunityKey", "ContactKey"},
		Mode:     cursor.Offset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) communityCategoriesSpec() cursor.Spec {
	return cursor.Spec{
		Family: "category",
		Select: im.sql(`SELECT ` + key("c.CommunityKey", "CommunityKey") + `, c.CommunityName, c.Description,
			` + key("c.CreatedByContactKey", "CreatedByContactKey") + `
			FROM {Community} c`),
		Order:    []string{"CommunityKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) discussionCategoriesSpec() cursor.Spec {
	return cursor.Spec{
		Family: "category",
		Select: im.sql(`SELECT ` + key("d.DiscussionKey", "DiscussionKey") + `, ` + key("d.CommunityKey", "CommunityKey") + `,
			d.DiscussionName
			FROM {Discussion} d`),
		Order:    []string{"DiscussionKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) discussionPostsSpec() cursor.Spec {
	return cursor.Spec{
		Family: "discussion_post",
		Select: im.sql(`SELECT ` + key("p.DiscussionPostKey", "DiscussionPostKey") + `,
			` + key("p.DiscussionKey", "DiscussionKey") + `,
			` + key("p.ContactKey", "ContactKey") + `,
			` + key("p.ParentDiscussionPostKey", "ParentDiscussionPostKey") + `,
			` + key("p.ThreadRootPostKey", "ThreadRootPostKey") + `,
			p.Subject, p.Body, p.PostType, p.CreatedOn, p.PinnedFlag, d.DiscussionName
			FROM {DiscussionPost} p
			LEFT JOIN {Discussion} d ON d.DiscussionKey = p.DiscussionKey`),
		Order:    []string{"CreatedOn", "DiscussionPostKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

// permalinkPostsSpec reads every discussion post. Replies are kept so that
// those promoted to their own topic get a permalink too.
func (im *Importer) permalinkPostsSpec() cursor.Spec {
	return cursor.Spec{
		Family: "permalink",
		Select: im.sql(`SELECT ` + key("p.DiscussionPostKey", "DiscussionPostKey") + `, p.PostType
			FROM {DiscussionPost} p`),
		Order:    []string{"DiscussionPostKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) libraryEntriesSpec() cursor.Spec {
	return cursor.Spec{
		Family: "library_entry",
		Select: im.sql(`SELECT ` + key("e.LibraryEntryKey", "LibraryEntryKey") + `,
			` + key("e.CreatedByContactKey", "CreatedByContactKey") + `,
			` + key("l.DiscussionKey", "DiscussionKey") + `,
			e.Title, e.Description, e.CreatedOn, l.LibraryName
			FROM {LibraryEntry} e
			JOIN {Library} l ON l.LibraryKey = e.LibraryKey`),
		Order:    []string{"CreatedOn", "LibraryEntryKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

// itemCommentsSpec selects comments on library entries or, with blogs set,
// on blogs.
func (im *Importer) itemCommentsSpec(blogs bool) cursor.Spec {
	q := `SELECT ` + key("ic.ItemCommentKey", "ItemCommentKey") + `,
			` + key("ic.ItemKey", "ItemKey") + `,
			` + key("ic.ParentItemCommentKey", "ParentItemCommentKey") + `,
			` + key("ic.ContactKey", "ContactKey") + `,
			ic.Comment, ic.CreatedOn,
			e.Title AS ItemTitle, ` + key("l.DiscussionKey", "CategoryKey") + `
			FROM {ItemComment} ic
			JOIN {LibraryEntry} e ON e.LibraryEntryKey = ic.ItemKey
			JOIN {Library} l ON l.LibraryKey = e.LibraryKey`
	family := "library_comment"
	if blogs {
		q = `SELECT ` + key("ic.ItemCommentKey", "ItemCommentKey") + `,
			` + key("ic.ItemKey", "ItemKey") + `,
			` + key("ic.ParentItemCommentKey", "ParentItemCommentKey") + `,
			` + key("ic.ContactKey", "ContactKey") + `,
			ic.Comment, ic.CreatedOn,
			b.BlogTitle AS ItemTitle, ` + key("b.CommunityKey", "CategoryKey") + `
			FROM {ItemComment} ic
			JOIN {Blog} b ON b.BlogKey = ic.ItemKey`
		family = "blog_comment"
	}
	return cursor.Spec{
		Family:   family,
		Select:   im.sql(q),
		Order:    []string{"CreatedOn", "ItemCommentKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) libraryFilesSpec() cursor.Spec {
	return cursor.Spec{
		Family: "library_entry_file",
		Select: im.sql(`SELECT ` + key("f.LibraryEntryFileKey", "LibraryEntryFileKey") + `,
			` + key("f.LibraryEntryKey", "LibraryEntryKey") + `,
			` + key("e.CreatedByContactKey", "CreatedByContactKey") + `,
			f.VersionName, f.FileExtension, f.OriginalFileName, l.LibraryName
			FROM {LibraryEntryFile} f
			JOIN {LibraryEntry} e ON e.LibraryEntryKey = f.LibraryEntryKey
			JOIN {Library} l ON l.LibraryKey = e.LibraryKey`),
		Order:    []string{"LibraryEntryFileKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) announcementsSpec() cursor.Spec {
	return cursor.Spec{
		Family: "announcement",
		Select: im.sql(`SELECT ` + key("a.AnnouncementKey", "AnnouncementKey") + `,
			` + key("a.CommunityKey", "CommunityKey") + `,
			` + key("a.CreatedByContactKey", "CreatedByContactKey") + `,
			a.AnnouncementTitle, a.AnnouncementText, a.CreatedOn
			FROM {Announcement} a`),
		Order:    []string{"CreatedOn", "AnnouncementKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

func (im *Importer) blogsSpec() cursor.Spec {
	return cursor.Spec{
		Family: "blog",
		Select: im.sql(`SELECT ` + key("b.BlogKey", "BlogKey") + `,
			` + key("b.CommunityKey", "CommunityKey") + `,
			` + key("b.ContactKey", "ContactKey") + `,
			b.BlogTitle, b.BlogText, b.CreatedOn
			FROM {Blog} b`),
		Order:    []string{"CreatedOn", "BlogKey"},
		Mode:     cursor.Keyset,
		PageSize: im.opts.BatchSize,
	}
}

// countOf wraps a spec's select in a COUNT for progress totals.
func countOf(spec cursor.Spec) string {
	return "SELECT COUNT(*) AS n FROM (" + spec.Select + ") src"
}
