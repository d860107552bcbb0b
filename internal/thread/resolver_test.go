package thread

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/source"
)

type fakeAnchors struct {
	anchors map[domain.OriginKey]domain.TopicAnchor
	err     error
	calls   []domain.OriginKey
}

func (f *fakeAnchors) TopicAnchorForImportedPost(family domain.Family, key string) (*domain.TopicAnchor, bool, error) {
	k := domain.OriginKey{Family: family, Key: key}
	f.calls = append(f.calls, k)
	if f.err != nil {
		return nil, false, f.err
	}
	a, ok := f.anchors[k]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

type fakeCategories map[string]int64

func (f fakeCategories) CategoryID(key string) (*int64, error) {
	id, ok := f[key]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func discussionPost(key string, fields map[string]any) Input {
	rec := source.FromMap(fields)
	return Input{
		Base: domain.PostBase{
			Origin: domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: key},
			UserID: 5,
			Raw:    "body",
		},
		Record:      &rec,
		IsNew:       rec.String("PostType") == "New",
		CategoryKey: rec.Key("DiscussionKey"),
		Subject:     rec.String("Subject"),
		Parents: []ParentRef{
			Field(domain.FamilyDiscussionPost, "ParentDiscussionPostKey"),
			Field(domain.FamilyDiscussionPost, "ThreadRootPostKey"),
		},
	}
}

func newResolver(anchors *fakeAnchors, policy OrphanPolicy) *Resolver {
	return NewResolver(anchors, fakeCategories{"D1": 42}, policy)
}

func TestResolve_NewTopic(t *testing.T) {
	r := newResolver(&fakeAnchors{}, OrphanPromote)

	res, err := r.Resolve(discussionPost("P1", map[string]any{
		"PostType": "New", "DiscussionKey": "D1", "Subject": "Hello",
	}))
	require.NoError(t, err)
	assert.Equal(t, KindNewTopic, res.Kind)
	assert.False(t, res.CategoryMissing)

	topic, ok := res.Candidate.(*domain.NewTopicPost)
	require.True(t, ok, "expected NewTopicPost, got %T", res.Candidate)
	require.NotNil(t, topic.CategoryID)
	assert.Equal(t, int64(42), *topic.CategoryID)
	assert.Equal(t, "Hello", topic.Title)
	require.NoError(t, domain.ValidateCandidate(topic))
}

func TestResolve_NewTopicUnmappedCategory(t *testing.T) {
	r := newResolver(&fakeAnchors{}, OrphanPromote)

	res, err := r.Resolve(discussionPost("P1", map[string]any{
		"PostType": "New", "DiscussionKey": "D9", "Subject": "Tom &amp; Jerry",
	}))
	require.NoError(t, err)
	assert.True(t, res.CategoryMissing)

	topic := res.Candidate.(*domain.NewTopicPost)
	assert.Nil(t, topic.CategoryID)
	assert.Equal(t, "Tom & Jerry", topic.Title)
}

func TestResolve_ReplyToOpeningPost(t *testing.T) {
	anchors := &fakeAnchors{anchors: map[domain.OriginKey]domain.TopicAnchor{
		{Family: domain.FamilyDiscussionPost, Key: "P1"}: {TopicID: 7, PostNumber: 1, HighestPostNumber: 3},
	}}
	r := newResolver(anchors, OrphanPromote)

	res, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType": "Reply", "DiscussionKey": "D1", "ParentDiscussionPostKey": "P1",
	}))
	require.NoError(t, err)
	assert.Equal(t, KindReply, res.Kind)

	reply := res.Candidate.(*domain.ReplyPost)
	assert.Equal(t, int64(7), reply.TopicID)
	assert.Nil(t, reply.ReplyToPostNumber)
}

func TestResolve_ReplyToLaterPost(t *testing.T) {
	anchors := &fakeAnchors{anchors: map[domain.OriginKey]domain.TopicAnchor{
		{Family: domain.FamilyDiscussionPost, Key: "P5"}: {TopicID: 7, PostNumber: 5, HighestPostNumber: 5},
	}}
	r := newResolver(anchors, OrphanPromote)

	res, err := r.Resolve(discussionPost("P6", map[string]any{
		"PostType": "Reply", "ParentDiscussionPostKey": "P5",
	}))
	require.NoError(t, err)

	reply := res.Candidate.(*domain.ReplyPost)
	assert.Equal(t, int64(7), reply.TopicID)
	require.NotNil(t, reply.ReplyToPostNumber)
	assert.Equal(t, 5, *reply.ReplyToPostNumber)
}

func TestResolve_SecondParentField(t *testing.T) {
	anchors := &fakeAnchors{anchors: map[domain.OriginKey]domain.TopicAnchor{
		{Family: domain.FamilyDiscussionPost, Key: "ROOT"}: {TopicID: 3, PostNumber: 1, HighestPostNumber: 1},
	}}
	r := newResolver(anchors, OrphanPromote)

	res, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType":                "Reply",
		"ParentDiscussionPostKey": "GONE",
		"ThreadRootPostKey":       "ROOT",
	}))
	require.NoError(t, err)
	assert.Equal(t, KindReply, res.Kind)
	assert.Equal(t, int64(3), res.Candidate.(*domain.ReplyPost).TopicID)
	assert.Equal(t, []domain.OriginKey{
		{Family: domain.FamilyDiscussionPost, Key: "GONE"},
		{Family: domain.FamilyDiscussionPost, Key: "ROOT"},
	}, res.Tried)
}

func TestResolve_LiveAnchorBeforeDurable(t *testing.T) {
	anchors := &fakeAnchors{}
	r := newResolver(anchors, OrphanPromote)

	parent := domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: "P1"}
	r.Remember(parent, &domain.Post{ID: 100, TopicID: 9, PostNumber: 2})

	res, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType": "Reply", "ParentDiscussionPostKey": "P1",
	}))
	require.NoError(t, err)

	reply := res.Candidate.(*domain.ReplyPost)
	assert.Equal(t, int64(9), reply.TopicID)
	require.NotNil(t, reply.ReplyToPostNumber)
	assert.Equal(t, 2, *reply.ReplyToPostNumber)
	assert.Empty(t, anchors.calls, "live hit must not reach the durable lookup")
}

func TestResolve_OrphanPromoted(t *testing.T) {
	r := newResolver(&fakeAnchors{}, OrphanPromote)

	res, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType": "Reply", "DiscussionKey": "D1", "Subject": "Re: Hello", "ParentDiscussionPostKey": "P1",
	}))
	require.NoError(t, err)
	assert.Equal(t, KindPromoted, res.Kind)

	topic, ok := res.Candidate.(*domain.NewTopicPost)
	require.True(t, ok)
	require.NotNil(t, topic.CategoryID)
	assert.Equal(t, int64(42), *topic.CategoryID)
	assert.Equal(t, "Re: Hello", topic.Title)
}

func TestResolve_OrphanSkipped(t *testing.T) {
	r := newResolver(&fakeAnchors{}, OrphanSkip)

	res, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType": "Reply", "DiscussionKey": "D1", "ParentDiscussionPostKey": "P1",
	}))
	require.NoError(t, err)
	assert.Equal(t, KindSkipped, res.Kind)
	assert.Nil(t, res.Candidate)
}

func TestResolve_PromotedWithoutSubject(t *testing.T) {
	r := newResolver(&fakeAnchors{}, OrphanPromote)

	res, err := r.Resolve(discussionPost("P2", map[string]any{"PostType": "Reply"}))
	require.NoError(t, err)
	topic := res.Candidate.(*domain.NewTopicPost)
	assert.Equal(t, untitled, topic.Title)
	assert.True(t, res.CategoryMissing)
}

func TestResolve_LookupError(t *testing.T) {
	r := newResolver(&fakeAnchors{err: errors.New("boom")}, OrphanPromote)

	_, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType": "Reply", "ParentDiscussionPostKey": "P1",
	}))
	require.Error(t, err)
}

func TestRemember_ReportsEarlierOrphans(t *testing.T) {
	r := newResolver(&fakeAnchors{}, OrphanPromote)

	_, err := r.Resolve(discussionPost("P2", map[string]any{
		"PostType": "Reply", "ParentDiscussionPostKey": "P1",
	}))
	require.NoError(t, err)

	early := r.Remember(domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: "P1"}, &domain.Post{TopicID: 1, PostNumber: 1})
	assert.Equal(t, []domain.OriginKey{{Family: domain.FamilyDiscussionPost, Key: "P2"}}, early)

	// Reported once.
	early = r.Remember(domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: "P1"}, &domain.Post{TopicID: 1, PostNumber: 1})
	assert.Empty(t, early)
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrphanPromote, p)

	p, err = ParseOrphanPolicy(" SKIP ")
	require.NoError(t, err)
	assert.Equal(t, OrphanSkip, p)

	_, err = ParseOrphanPolicy("drop")
	assert.Error(t, err)
}

func TestReplyNumberingOrderInvariant(t *testing.T) {
	// Replies anchored to any post number never reference post 1 explicitly
	// and always reference an earlier post.
	for n := 1; n <= 10; n++ {
		anchor := domain.TopicAnchor{TopicID: 1, PostNumber: n, HighestPostNumber: n}
		got := anchor.ReplyTo()
		next := anchor.HighestPostNumber + 1
		if n == 1 {
			assert.Nil(t, got)
			continue
		}
		require.NotNil(t, got)
		assert.GreaterOrEqual(t, *got, 2)
		assert.Less(t, *got, next)
	}
}
