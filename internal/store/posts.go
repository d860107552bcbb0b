package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
)

// PostStore handles topic and post persistence operations.
type PostStore struct {
	store *Store
}

// Create persists a candidate. A NewTopicPost opens a topic as post 1; a
// ReplyPost takes the topic's next post number. The post is mapped under its
// origin family and key.
func (ps *PostStore) Create(c domain.Candidate) (*domain.Post, error) {
	if err := domain.ValidateCandidate(c); err != nil {
		return nil, err
	}

	switch p := c.(type) {
	case *domain.NewTopicPost:
		return ps.createTopic(p)
	case *domain.ReplyPost:
		return ps.createReply(p)
	}
	return nil, fmt.Errorf("%w: unsupported candidate %T", domain.ErrInvalidCandidate, c)
}

func (ps *PostStore) createTopic(p *domain.NewTopicPost) (*domain.Post, error) {
	var post *domain.Post
	err := ps.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		created := formatTime(p.CreatedAt)

		var pinnedAt interface{}
		if p.Pinned {
			pinnedAt = created
		}

		res, err := tx.Exec(`
			INSERT INTO topics (title, category_id, user_id, pinned_at, highest_post_number, posts_count, created_at, bumped_at)
			VALUES (?, ?, ?, ?, 1, 1, ?, ?)
		`, p.Title, p.CategoryID, p.UserID, pinnedAt, created, created)
		if err != nil {
			return fmt.Errorf("failed to create topic: %w", err)
		}
		topicID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get topic ID: %w", err)
		}

		postID, err := insertPost(tx, topicID, 1, p.UserID, nil, p.Raw, created)
		if err != nil {
			return err
		}

		if err := tagTopic(tx, topicID, p.Tags); err != nil {
			return err
		}

		if err := insertMapping(tx, p.Origin.Family, p.Origin.Key, postID); err != nil {
			return err
		}

		payload := map[string]interface{}{
			"topic_id":    topicID,
			"post_number": 1,
			"title":       p.Title,
		}
		if p.CategoryID != nil {
			payload["category_id"] = *p.CategoryID
		}
		if err := ew.LogCreated(tx, p.Origin.Family, p.Origin.Key, postID, payload); err != nil {
			return err
		}

		post = &domain.Post{
			ID:         postID,
			TopicID:    topicID,
			UserID:     p.UserID,
			PostNumber: 1,
			Raw:        p.Raw,
			CreatedAt:  parseTime(created),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (ps *PostStore) createReply(p *domain.ReplyPost) (*domain.Post, error) {
	var post *domain.Post
	err := ps.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		var highest int
		var bumped string
		err := tx.QueryRow("SELECT highest_post_number, bumped_at FROM topics WHERE id = ?", p.TopicID).Scan(&highest, &bumped)
		if err == sql.ErrNoRows {
			return fmt.Errorf("topic %d: %w", p.TopicID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read topic: %w", err)
		}

		number := highest + 1
		if p.ReplyToPostNumber != nil && *p.ReplyToPostNumber >= number {
			return fmt.Errorf("%w: reply_to_post_number %d does not precede post %d in topic %d",
				domain.ErrInvalidCandidate, *p.ReplyToPostNumber, number, p.TopicID)
		}

		created := formatTime(p.CreatedAt)
		postID, err := insertPost(tx, p.TopicID, number, p.UserID, p.ReplyToPostNumber, p.Raw, created)
		if err != nil {
			return err
		}

		if created > bumped {
			bumped = created
		}
		_, err = tx.Exec(
			"UPDATE topics SET highest_post_number = ?, posts_count = posts_count + 1, bumped_at = ? WHERE id = ?",
			number, bumped, p.TopicID,
		)
		if err != nil {
			return fmt.Errorf("failed to update topic: %w", err)
		}

		if err := tagTopic(tx, p.TopicID, p.Tags); err != nil {
			return err
		}

		if err := insertMapping(tx, p.Origin.Family, p.Origin.Key, postID); err != nil {
			return err
		}

		payload := map[string]interface{}{
			"topic_id":    p.TopicID,
			"post_number": number,
		}
		if p.ReplyToPostNumber != nil {
			payload["reply_to_post_number"] = *p.ReplyToPostNumber
		}
		if err := ew.LogCreated(tx, p.Origin.Family, p.Origin.Key, postID, payload); err != nil {
			return err
		}

		post = &domain.Post{
			ID:                postID,
			TopicID:           p.TopicID,
			UserID:            p.UserID,
			PostNumber:        number,
			ReplyToPostNumber: p.ReplyToPostNumber,
			Raw:               p.Raw,
			CreatedAt:         parseTime(created),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func insertPost(tx *sql.Tx, topicID int64, number int, userID int64, replyTo *int, raw, created string) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO posts (topic_id, post_number, user_id, reply_to_post_number, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, topicID, number, userID, replyTo, raw, created, created)
	if err != nil {
		return 0, fmt.Errorf("failed to create post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get post ID: %w", err)
	}
	return id, nil
}

func tagTopic(tx *sql.Tx, topicID int64, tags []string) error {
	for _, raw := range tags {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, err := tx.Exec("INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING", name); err != nil {
			return fmt.Errorf("failed to create tag %q: %w", name, err)
		}
		_, err := tx.Exec(`
			INSERT INTO topic_tags (topic_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?
			ON CONFLICT (topic_id, tag_id) DO NOTHING
		`, topicID, name)
		if err != nil {
			return fmt.Errorf("failed to tag topic %d: %w", topicID, err)
		}
	}
	return nil
}

// Get returns a post by id.
func (ps *PostStore) Get(id int64) (*domain.Post, error) {
	var p domain.Post
	var replyTo sql.NullInt64
	var created string
	err := ps.store.db.QueryRow(`
		SELECT id, topic_id, user_id, post_number, reply_to_post_number, raw, created_at
		FROM posts WHERE id = ?
	`, id).Scan(&p.ID, &p.TopicID, &p.UserID, &p.PostNumber, &replyTo, &p.Raw, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if replyTo.Valid {
		n := int(replyTo.Int64)
		p.ReplyToPostNumber = &n
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// UpdateRaw replaces a post body.
func (ps *PostStore) UpdateRaw(id int64, raw string) error {
	res, err := ps.store.db.Exec(
		"UPDATE posts SET raw = ?, updated_at = ? WHERE id = ?",
		raw, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update post %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return nil
}

// TopicTitle returns a topic's title.
func (ps *PostStore) TopicTitle(topicID int64) (string, error) {
	var title string
	err := ps.store.db.QueryRow("SELECT title FROM topics WHERE id = ?", topicID).Scan(&title)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("topic %d: %w", topicID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get topic: %w", err)
	}
	return title, nil
}

// TopicTags returns the tag names of a topic in name order.
func (ps *PostStore) TopicTags(topicID int64) ([]string, error) {
	rows, err := ps.store.db.Query(`
		SELECT t.name FROM topic_tags tt JOIN tags t ON t.id = tt.tag_id
		WHERE tt.topic_id = ? ORDER BY t.name
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
