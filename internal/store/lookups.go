package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lherron/hlmigrate/internal/domain"
)

// maxInParams keeps IN lists under SQLite's host parameter limit.
const maxInParams = 500

// TargetID returns the target id mapped to (family, importID).
func (s *Store) TargetID(family domain.Family, importID string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT target_id FROM import_mappings WHERE family = ? AND import_id = ?",
		string(family), importID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up %s mapping: %w", family, err)
	}
	return id, true, nil
}

// MappedIDs returns the subset of keys that are mapped, with their targets.
func (s *Store) MappedIDs(family domain.Family, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for start := 0; start < len(keys); start += maxInParams {
		end := start + maxInParams
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, string(family))
		for _, k := range chunk {
			args = append(args, k)
		}

		rows, err := s.db.Query(
			"SELECT import_id, target_id FROM import_mappings WHERE family = ? AND import_id IN ("+placeholders(len(chunk))+")",
			args...,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s mappings: %w", family, err)
		}
		for rows.Next() {
			var key string
			var id int64
			if err := rows.Scan(&key, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan mapping: %w", err)
			}
			out[key] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// AllExist reports whether every key already has a mapping. An empty batch
// trivially exists.
func (s *Store) AllExist(family domain.Family, keys []string) (bool, error) {
	distinct := dedupe(keys)
	if len(distinct) == 0 {
		return true, nil
	}
	mapped, err := s.MappedIDs(family, distinct)
	if err != nil {
		return false, err
	}
	return len(mapped) == len(distinct), nil
}

// FindUserByImportID searches the import_id custom field directly. It finds
// users whose mapping row is missing, e.g. accounts created by another tool.
func (s *Store) FindUserByImportID(importID string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT user_id FROM user_custom_fields WHERE name = 'import_id' AND value = ? ORDER BY user_id LIMIT 1",
		importID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to search user custom fields: %w", err)
	}
	return id, true, nil
}

// TopicAnchorForImportedPost returns where an imported post of the given
// family lives.
func (s *Store) TopicAnchorForImportedPost(family domain.Family, importID string) (*domain.TopicAnchor, bool, error) {
	var a domain.TopicAnchor
	err := s.db.QueryRow(`
		SELECT p.topic_id, p.post_number, t.highest_post_number
		FROM import_mappings m
		JOIN posts p ON p.id = m.target_id
		JOIN topics t ON t.id = p.topic_id
		WHERE m.family = ? AND m.import_id = ?
	`, string(family), importID).Scan(&a.TopicID, &a.PostNumber, &a.HighestPostNumber)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up topic anchor: %w", err)
	}
	return &a, true, nil
}

// MappingCounts returns the number of mappings per family.
func (s *Store) MappingCounts() (map[domain.Family]int, error) {
	rows, err := s.db.Query("SELECT family, COUNT(*) FROM import_mappings GROUP BY family")
	if err != nil {
		return nil, fmt.Errorf("failed to count mappings: %w", err)
	}
	defer rows.Close()

	out := map[domain.Family]int{}
	for rows.Next() {
		var f string
		var n int
		if err := rows.Scan(&f, &n); err != nil {
			return nil, fmt.Errorf("failed to scan mapping count: %w", err)
		}
		out[domain.Family(f)] = n
	}
	return out, rows.Err()
}

// EntityCounts returns row counts of the target tables.
func (s *Store) EntityCounts() (map[string]int, error) {
	tables := []string{"users", "groups", "group_users", "categories", "topics", "posts", "uploads", "post_uploads", "permalinks"}
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t, err)
		}
		out[t] = n
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
