package importer

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlmigrate/internal/config"
	"github.com/lherron/hlmigrate/internal/db"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
	"github.com/lherron/hlmigrate/internal/logging"
	"github.com/lherron/hlmigrate/internal/source"
	"github.com/lherron/hlmigrate/internal/store"
	"github.com/lherron/hlmigrate/internal/testutil"
)

type fixture struct {
	src    *source.DB
	legacy *sql.DB
	cfg    *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src, legacy := testutil.LegacyDB(t)

	attachments := t.TempDir()
	testutil.WriteFile(t, attachments, filepath.Join("Shared Files", "bylaws.pdf"), "%PDF-1.4 bylaws")

	cfg := config.Defaults()
	cfg.SourceDriver = "sqlite3"
	cfg.TablePrefix = ""
	cfg.TargetDBPath = filepath.Join(t.TempDir(), "target.db")
	cfg.UploadsDir = t.TempDir()
	cfg.AttachmentsDir = attachments
	cfg.BatchSize = 2
	cfg.AttachmentWorkers = 2
	cfg.PermalinkBase = "https://legacy.example.org/viewthread"

	return &fixture{src: src, legacy: legacy, cfg: cfg}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	x := func(q string, args ...any) { testutil.Exec(t, f.legacy, q, args...) }

	x(`INSERT INTO Contact VALUES ('C1', 'Alice@Example.com', 'Alice', 'Smith', '2019-01-01 00:00:00', 'Active')`)
	x(`INSERT INTO Contact VALUES ('C2', 'bob@example.com', 'Bob', 'Jones', '2019-01-02 00:00:00', NULL)`)
	x(`INSERT INTO Contact VALUES ('C3', 'carol@example.com', 'Carol', 'Gone', '2019-01-03 00:00:00', 'Disabled')`)
	x(`INSERT INTO Contact VALUES ('C4', '', 'No', 'Email', '2019-01-04 00:00:00', NULL)`)
	x(`INSERT INTO ContactLoginDate VALUES ('C1', '2021-05-01 08:00:00')`)

	x(`INSERT INTO Community VALUES ('K1', 'Members &amp; Friends', 'All members', 'C1', '2019-02-01 00:00:00')`)
	x(`INSERT INTO CommunityMember VALUES ('K1', 'C1'), ('K1', 'C2'), ('K1', 'C3')`)
	x(`INSERT INTO Discussion VALUES ('D1', 'K1', 'General')`)

	x(`INSERT INTO DiscussionPost VALUES ('P1', 'D1', 'C1', 'Hello', '<pre><code>a &lt; b</code></pre>', 'New', NULL, NULL, '2020-01-01 10:00:00', 1)`)
	x(`INSERT INTO DiscussionPost VALUES ('P2', 'D1', 'C2', 'Re: Hello', 'first reply', 'Reply', 'P1', 'P1', '2020-01-01 10:05:00', 0)`)
	x(`INSERT INTO DiscussionPost VALUES ('P3', 'D1', 'C9', 'Re: Hello', 'nested reply', 'Reply', 'P2', 'P1', '2020-01-01 10:10:00', 0)`)
	x(`INSERT INTO DiscussionPost VALUES ('P4', 'D1', 'C1', 'Re: Lost', 'orphan', 'Reply', 'GONE', 'GONE-ROOT', '2020-01-01 10:15:00', 0)`)

	x(`INSERT INTO Library VALUES ('L1', 'Shared Files', 'D1')`)
	x(`INSERT INTO LibraryEntry VALUES ('E1', 'L1', 'Bylaws', 'Current bylaws', 'C1', '2020-02-01 00:00:00')`)
	x(`INSERT INTO LibraryEntryFile VALUES ('F1', 'E1', 'v1', 'pdf', 'C:\docs\bylaws.pdf', '2020-02-01 00:00:00')`)
	x(`INSERT INTO LibraryEntryFile VALUES ('F2', 'E1', 'v2', 'docx', 'missing.docx', '2020-02-02 00:00:00')`)
	x(`INSERT INTO ItemComment VALUES ('IC1', 'E1', NULL, 'C2', 'Looks good', '2020-02-03 00:00:00')`)
	x(`INSERT INTO ItemComment VALUES ('IC2', 'E1', 'IC1', 'C1', 'Thanks', '2020-02-04 00:00:00')`)

	x(`INSERT INTO Announcement VALUES ('A1', 'K1', 'Welcome', 'Hi all', 'C1', '2020-03-01 00:00:00')`)
	x(`INSERT INTO Blog VALUES ('B1', 'K1', 'Our year', 'It went well', 'C2', '2020-04-01 00:00:00')`)
	x(`INSERT INTO ItemComment VALUES ('IC3', 'B1', NULL, 'C1', 'Agreed', '2020-04-02 00:00:00')`)
}

func (f *fixture) run(t *testing.T) *Summary {
	t.Helper()
	summary, err := RunWith(context.Background(), f.src, f.cfg, logging.Discard(), Output{})
	require.NoError(t, err)
	return summary
}

func (f *fixture) target(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.Open(f.cfg.TargetDBPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return store.New(database, "")
}

func postFor(t *testing.T, st *store.Store, family domain.Family, key string) *domain.Post {
	t.Helper()
	id, ok, err := st.TargetID(family, key)
	require.NoError(t, err)
	require.True(t, ok, "%s %s not mapped", family, key)
	p, err := st.Posts.Get(id)
	require.NoError(t, err)
	return p
}

func TestRunImportsEveryFamily(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	summary := f.run(t)
	assert.Equal(t, 2, summary.Stages[StageUsers].Created)
	assert.Equal(t, 2, summary.Stages[StageMemberships].Created)
	assert.Equal(t, 1, summary.Stages[StageMemberships].Skipped)
	assert.Equal(t, 4, summary.Stages[StageDiscussionPosts].Created)
	assert.Equal(t, 1, summary.Stages[StageAttachments].Created)
	assert.Equal(t, 1, summary.Stages[StageAttachments].Skipped)
	assert.Equal(t, 2, summary.Stages[StagePermalinks].Created)
	assert.Zero(t, summary.Totals().Failed)

	st := f.target(t)
	counts, err := st.MappingCounts()
	require.NoError(t, err)
	assert.Equal(t, map[domain.Family]int{
		domain.FamilyGroup:            1,
		domain.FamilyUser:             2,
		domain.FamilyCategory:         2,
		domain.FamilyDiscussionPost:   4,
		domain.FamilyLibraryEntry:     1,
		domain.FamilyItemComment:      3,
		domain.FamilyLibraryEntryFile: 1,
		domain.FamilyAnnouncement:     1,
		domain.FamilyBlog:             1,
	}, counts)

	p1 := postFor(t, st, domain.FamilyDiscussionPost, "P1")
	assert.Equal(t, 1, p1.PostNumber)
	assert.Equal(t, "```\na < b\n```", p1.Raw)

	p2 := postFor(t, st, domain.FamilyDiscussionPost, "P2")
	assert.Equal(t, p1.TopicID, p2.TopicID)
	assert.Nil(t, p2.ReplyToPostNumber)

	p3 := postFor(t, st, domain.FamilyDiscussionPost, "P3")
	assert.Equal(t, p1.TopicID, p3.TopicID)
	require.NotNil(t, p3.ReplyToPostNumber)
	assert.Equal(t, p2.PostNumber, *p3.ReplyToPostNumber)
	assert.Equal(t, domain.UnknownUserID, p3.UserID)

	p4 := postFor(t, st, domain.FamilyDiscussionPost, "P4")
	assert.NotEqual(t, p1.TopicID, p4.TopicID)
	assert.Equal(t, 1, p4.PostNumber)
	title, err := st.Posts.TopicTitle(p4.TopicID)
	require.NoError(t, err)
	assert.Equal(t, "Re: Lost", title)

	e1 := postFor(t, st, domain.FamilyLibraryEntry, "E1")
	assert.Contains(t, e1.Raw, "bylaws.pdf")
	tags, err := st.Posts.TopicTags(e1.TopicID)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared-files"}, tags)

	ic1 := postFor(t, st, domain.FamilyItemComment, "IC1")
	ic2 := postFor(t, st, domain.FamilyItemComment, "IC2")
	assert.Equal(t, e1.TopicID, ic1.TopicID)
	assert.Equal(t, e1.TopicID, ic2.TopicID)
	require.NotNil(t, ic2.ReplyToPostNumber)
	assert.Equal(t, ic1.PostNumber, *ic2.ReplyToPostNumber)

	b1 := postFor(t, st, domain.FamilyBlog, "B1")
	ic3 := postFor(t, st, domain.FamilyItemComment, "IC3")
	assert.Equal(t, b1.TopicID, ic3.TopicID)

	var pinned sql.NullString
	require.NoError(t, st.DB().QueryRow("SELECT pinned_at FROM topics WHERE id = ?", p1.TopicID).Scan(&pinned))
	assert.True(t, pinned.Valid)

	var link string
	require.NoError(t, st.DB().QueryRow("SELECT url FROM permalinks WHERE topic_id = ?", p1.TopicID).Scan(&link))
	assert.Equal(t, "https://legacy.example.org/viewthread?MessageKey=P1", link)

	// P4 was promoted to its own topic, so its thread url lands there.
	require.NoError(t, st.DB().QueryRow("SELECT url FROM permalinks WHERE topic_id = ?", p4.TopicID).Scan(&link))
	assert.Equal(t, "https://legacy.example.org/viewthread?MessageKey=P4", link)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	f.run(t)
	st := f.target(t)
	entities1, err := st.EntityCounts()
	require.NoError(t, err)
	mappings1, err := st.MappingCounts()
	require.NoError(t, err)

	second := f.run(t)
	assert.Zero(t, second.Totals().Created)
	assert.Zero(t, second.Totals().Failed)

	entities2, err := st.EntityCounts()
	require.NoError(t, err)
	mappings2, err := st.MappingCounts()
	require.NoError(t, err)
	assert.Equal(t, entities1, entities2)
	assert.Equal(t, mappings1, mappings2)

	e1 := postFor(t, st, domain.FamilyLibraryEntry, "E1")
	assert.Equal(t, 1, strings.Count(e1.Raw, "bylaws.pdf</a>")+strings.Count(e1.Raw, "](/uploads/"))

	// Pages skipped as a whole still log one existed event per record.
	last, err := events.LastRun(st.DB().DB)
	require.NoError(t, err)
	require.NotNil(t, last)
	var existed int
	require.NoError(t, st.DB().QueryRow(
		"SELECT COUNT(*) FROM import_events WHERE run_id = ? AND family = ? AND event_type = 'existed'",
		last.ID, string(domain.FamilyDiscussionPost)).Scan(&existed))
	assert.Equal(t, 4, existed)
	assert.Equal(t, 4, second.Stages[StageDiscussionPosts].Existed)
}

func TestRunSkipsOrphansUnderSkipPolicy(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.cfg.OrphanPolicy = "skip"
	f.cfg.Stages = []string{StageUsers, StageCategories, StageDiscussionPosts}

	summary := f.run(t)
	assert.Equal(t, 3, summary.Stages[StageDiscussionPosts].Created)
	assert.Equal(t, 1, summary.Stages[StageDiscussionPosts].Skipped)

	st := f.target(t)
	_, ok, err := st.TargetID(domain.FamilyDiscussionPost, "P4")
	require.NoError(t, err)
	assert.False(t, ok)

	evs, err := events.ForRecord(st.DB().DB, string(domain.FamilyDiscussionPost), "P4")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.Skipped, evs[0].Type)
	assert.Equal(t, "parent not found", evs[0].Payload["reason"])
	assert.Equal(t, "General", evs[0].Payload["discussion"])
}

func TestRunReportsParentReadAfterReply(t *testing.T) {
	f := newFixture(t)
	x := func(q string, args ...any) { testutil.Exec(t, f.legacy, q, args...) }
	x(`INSERT INTO Discussion VALUES ('D1', 'K1', 'General')`)
	// The reply's timestamp precedes its parent's, so it is read first.
	x(`INSERT INTO DiscussionPost VALUES ('R1', 'D1', NULL, 'Re: Late', 'early reply', 'Reply', 'T1', 'T1', '2020-01-01 09:00:00', 0)`)
	x(`INSERT INTO DiscussionPost VALUES ('X1', 'D1', NULL, 'Filler', 'x', 'New', NULL, NULL, '2020-01-01 09:30:00', 0)`)
	x(`INSERT INTO DiscussionPost VALUES ('T1', 'D1', NULL, 'Late', 'parent', 'New', NULL, NULL, '2020-01-01 11:00:00', 0)`)
	f.cfg.Stages = []string{StageCategories, StageDiscussionPosts}

	summary := f.run(t)
	assert.Equal(t, 3, summary.Stages[StageDiscussionPosts].Created)

	st := f.target(t)
	evs, err := events.ForRecord(st.DB().DB, string(domain.FamilyDiscussionPost), "R1")
	require.NoError(t, err)
	var reasons []string
	for _, e := range evs {
		if e.Type == events.Warning {
			reasons = append(reasons, e.Payload["reason"].(string))
		}
	}
	assert.Contains(t, reasons, "parent not found, promoted to new topic")
	assert.Contains(t, reasons, "ordering violation: reply was read before its parent")
}

func TestRunDryRunLeavesTargetUntouched(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.run(t)

	testutil.Exec(t, f.legacy, `INSERT INTO DiscussionPost VALUES ('P5', 'D1', 'C1', 'Later', 'new', 'New', NULL, NULL, '2020-05-01 00:00:00', 0)`)
	f.cfg.DryRun = true
	var diffs strings.Builder
	summary, err := RunWith(context.Background(), f.src, f.cfg, logging.Discard(), Output{Diffs: &diffs})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Stages[StageDiscussionPosts].Created)

	st := f.target(t)
	_, ok, err := st.TargetID(domain.FamilyDiscussionPost, "P5")
	require.NoError(t, err)
	assert.False(t, ok)

	run, err := events.LastRun(st.DB().DB)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.DryRun)
}

func TestNewRejectsUnknownStage(t *testing.T) {
	err := ValidateStages([]string{StageUsers, "widgets"})
	assert.EqualError(t, err, `unknown stage "widgets"`)
	assert.NoError(t, ValidateStages(AllStages))
}

func TestPermalinkURL(t *testing.T) {
	got, err := permalinkURL("https://legacy.example.org/communities/viewthread?x=1", "AB-12")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.org/communities/viewthread?MessageKey=AB-12&x=1", got)
}
