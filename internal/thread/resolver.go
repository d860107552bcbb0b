// Package thread decides where each legacy post lands: a new topic, or a
// reply at a given position in an existing one.
package thread

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lherron/hlmigrate/internal/content"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/source"
)

// OrphanPolicy names what happens to a reply whose parent cannot be found.
type OrphanPolicy string

const (
	// OrphanPromote turns the orphan into its own topic (default).
	OrphanPromote OrphanPolicy = "promote"
	// OrphanSkip drops the orphan and reports it.
	OrphanSkip OrphanPolicy = "skip"
)

// ParseOrphanPolicy parses a configured policy. Empty means promote.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrphanPromote:
		return OrphanPromote, nil
	case OrphanSkip:
		return OrphanSkip, nil
	}
	return "", fmt.Errorf("invalid orphan policy %q: must be promote or skip", s)
}

// ParentRef extracts one candidate parent reference from a record.
type ParentRef func(rec *source.Record) (domain.OriginKey, bool)

// Field returns a ParentRef reading column as a key of family.
func Field(family domain.Family, column string) ParentRef {
	return func(rec *source.Record) (domain.OriginKey, bool) {
		key := rec.Key(column)
		if key == "" {
			return domain.OriginKey{}, false
		}
		return domain.OriginKey{Family: family, Key: key}, true
	}
}

// Anchors is the durable lookup for posts imported by earlier runs.
type Anchors interface {
	TopicAnchorForImportedPost(family domain.Family, importID string) (*domain.TopicAnchor, bool, error)
}

// Categories resolves a category key. Nil means unmapped.
type Categories interface {
	CategoryID(key string) (*int64, error)
}

// Input is one legacy post ready for resolution.
type Input struct {
	Base        domain.PostBase
	Record      *source.Record
	IsNew       bool        // legacy type flag marks an opening post
	CategoryKey string      // community or discussion key
	Subject     string      // raw title field, entity-encoded
	Parents     []ParentRef // tried in order
	Pinned      bool
}

// Kind classifies a resolution.
type Kind int

const (
	KindNewTopic Kind = iota
	KindReply
	KindPromoted // orphan reply turned into a topic
	KindSkipped  // orphan reply dropped under OrphanSkip
)

func (k Kind) String() string {
	switch k {
	case KindNewTopic:
		return "new_topic"
	case KindReply:
		return "reply"
	case KindPromoted:
		return "promoted"
	case KindSkipped:
		return "skipped"
	}
	return "unknown"
}

// Resolution is the outcome for one input. Candidate is nil when skipped.
type Resolution struct {
	Kind            Kind
	Candidate       domain.Candidate
	CategoryMissing bool
	// Tried lists the parent keys that were looked up, in order.
	Tried []domain.OriginKey
}

// untitled is used when a promoted orphan has no subject.
const untitled = "Untitled"

// Resolver resolves inputs against live and durable anchors.
type Resolver struct {
	anchors    Anchors
	categories Categories
	policy     OrphanPolicy

	mu      sync.Mutex
	live    map[domain.OriginKey]domain.TopicAnchor
	waiting map[domain.OriginKey][]domain.OriginKey
}

// NewResolver creates a resolver.
func NewResolver(anchors Anchors, categories Categories, policy OrphanPolicy) *Resolver {
	if policy == "" {
		policy = OrphanPromote
	}
	return &Resolver{
		anchors:    anchors,
		categories: categories,
		policy:     policy,
		live:       make(map[domain.OriginKey]domain.TopicAnchor),
		waiting:    make(map[domain.OriginKey][]domain.OriginKey),
	}
}

// Policy returns the orphan policy in effect.
func (r *Resolver) Policy() OrphanPolicy {
	return r.policy
}

// Resolve builds the candidate for one input.
func (r *Resolver) Resolve(in Input) (*Resolution, error) {
	if in.IsNew {
		return r.newTopic(in, KindNewTopic)
	}

	var tried []domain.OriginKey
	for _, ref := range in.Parents {
		if in.Record == nil {
			break
		}
		parent, ok := ref(in.Record)
		if !ok || containsKey(tried, parent) {
			continue
		}
		tried = append(tried, parent)

		anchor, found, err := r.anchor(parent)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		return &Resolution{
			Kind: KindReply,
			Candidate: &domain.ReplyPost{
				PostBase:          in.Base,
				TopicID:           anchor.TopicID,
				ReplyToPostNumber: anchor.ReplyTo(),
			},
			Tried: tried,
		}, nil
	}

	if len(tried) > 0 {
		r.mu.Lock()
		for _, p := range tried {
			r.waiting[p] = append(r.waiting[p], in.Base.Origin)
		}
		r.mu.Unlock()
	}

	if r.policy == OrphanSkip {
		return &Resolution{Kind: KindSkipped, Tried: tried}, nil
	}
	res, err := r.newTopic(in, KindPromoted)
	if err != nil {
		return nil, err
	}
	res.Tried = tried
	return res, nil
}

func (r *Resolver) newTopic(in Input, kind Kind) (*Resolution, error) {
	var categoryID *int64
	if in.CategoryKey != "" {
		id, err := r.categories.CategoryID(in.CategoryKey)
		if err != nil {
			return nil, err
		}
		categoryID = id
	}

	title := content.UnescapeTitle(in.Subject)
	if title == "" {
		title = untitled
	}

	return &Resolution{
		Kind: kind,
		Candidate: &domain.NewTopicPost{
			PostBase:   in.Base,
			CategoryID: categoryID,
			Title:      title,
			Pinned:     in.Pinned,
		},
		CategoryMissing: categoryID == nil,
	}, nil
}

// anchor looks the parent up among posts created this run, then among
// posts imported by earlier runs.
func (r *Resolver) anchor(parent domain.OriginKey) (domain.TopicAnchor, bool, error) {
	r.mu.Lock()
	a, ok := r.live[parent]
	r.mu.Unlock()
	if ok {
		return a, true, nil
	}

	durable, ok, err := r.anchors.TopicAnchorForImportedPost(parent.Family, parent.Key)
	if err != nil {
		return domain.TopicAnchor{}, false, fmt.Errorf("failed to look up parent %s: %w", parent, err)
	}
	if !ok {
		return domain.TopicAnchor{}, false, nil
	}
	return *durable, true, nil
}

// Remember registers a post created this run so later replies can anchor
// to it. It returns the records that referenced this post as a parent
// before it existed; those were resolved as orphans because their parent
// arrived in a later page.
func (r *Resolver) Remember(origin domain.OriginKey, post *domain.Post) []domain.OriginKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live[origin] = domain.TopicAnchor{
		TopicID:           post.TopicID,
		PostNumber:        post.PostNumber,
		HighestPostNumber: post.PostNumber,
	}

	early := r.waiting[origin]
	delete(r.waiting, origin)
	return early
}

func containsKey(keys []domain.OriginKey, k domain.OriginKey) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
