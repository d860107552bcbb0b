package store

import (
	"fmt"
	"strings"
)

// PermalinkStore handles legacy URL redirects.
type PermalinkStore struct {
	store *Store
}

// PermalinkParams names the legacy url and exactly one target.
type PermalinkParams struct {
	URL        string
	TopicID    *int64
	PostID     *int64
	CategoryID *int64
}

// Create inserts a permalink. Returns false when the url already exists.
func (ps *PermalinkStore) Create(params PermalinkParams) (bool, error) {
	url := strings.TrimSuffix(strings.TrimSpace(params.URL), "/")
	if url == "" {
		return false, fmt.Errorf("permalink url required")
	}
	targets := 0
	for _, id := range []*int64{params.TopicID, params.PostID, params.CategoryID} {
		if id != nil {
			targets++
		}
	}
	if targets != 1 {
		return false, fmt.Errorf("permalink %s must have exactly one target, got %d", url, targets)
	}

	res, err := ps.store.db.Exec(`
		INSERT INTO permalinks (url, topic_id, post_id, category_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (url) DO NOTHING
	`, url, params.TopicID, params.PostID, params.CategoryID)
	if err != nil {
		return false, fmt.Errorf("failed to create permalink %s: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
