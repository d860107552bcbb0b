package db

import (
	"database/sql"
	"fmt"
)

// NumberingDrift captures a topic whose counters disagree with its posts.
type NumberingDrift struct {
	TopicID           int64
	HighestPostNumber int
	MaxPostNumber     int
	PostsCount        int
	ActualPosts       int
}

type sqlExecutor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
}

// NumberingDrifts returns topics whose highest_post_number or posts_count
// does not match the posts actually stored. A topic behind its posts would
// hand out a duplicate post_number on the next reply.
func NumberingDrifts(exec sqlExecutor) ([]NumberingDrift, error) {
	rows, err := exec.Query(`
		SELECT t.id, t.highest_post_number, t.posts_count,
		       COALESCE(MAX(p.post_number), 0), COUNT(p.id)
		FROM topics t
		LEFT JOIN posts p ON p.topic_id = t.id
		GROUP BY t.id
		HAVING t.highest_post_number != COALESCE(MAX(p.post_number), 0)
		    OR t.posts_count != COUNT(p.id)
		ORDER BY t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan topic numbering: %w", err)
	}
	defer rows.Close()

	drifts := []NumberingDrift{}
	for rows.Next() {
		var d NumberingDrift
		if err := rows.Scan(&d.TopicID, &d.HighestPostNumber, &d.PostsCount, &d.MaxPostNumber, &d.ActualPosts); err != nil {
			return nil, fmt.Errorf("failed to scan numbering drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// FixNumberingDrifts resets topic counters to match their posts.
// Returns the drifts that were corrected.
func FixNumberingDrifts(exec sqlExecutor) ([]NumberingDrift, error) {
	drifts, err := NumberingDrifts(exec)
	if err != nil {
		return nil, err
	}

	for _, d := range drifts {
		_, err := exec.Exec(
			"UPDATE topics SET highest_post_number = ?, posts_count = ? WHERE id = ?",
			d.MaxPostNumber, d.ActualPosts, d.TopicID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to fix numbering for topic %d: %w", d.TopicID, err)
		}
	}

	return drifts, nil
}
