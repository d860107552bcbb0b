package store

import (
	"database/sql"
	"fmt"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
)

// GroupStore handles group persistence operations.
type GroupStore struct {
	store *Store
}

// GroupCreateParams contains parameters for creating an imported group.
type GroupCreateParams struct {
	ImportID string
	Name     string // display name; the unique handle is derived from it
	BioRaw   string
}

// Create inserts a group with a unique handle and maps it.
func (gs *GroupStore) Create(params GroupCreateParams) (*domain.Group, error) {
	if params.ImportID == "" {
		return nil, fmt.Errorf("group import id required")
	}

	var group *domain.Group
	err := gs.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		name, err := uniqueGroupName(tx, SuggestUsername(params.Name))
		if err != nil {
			return err
		}

		res, err := tx.Exec(
			"INSERT INTO groups (name, full_name, bio_raw) VALUES (?, ?, ?)",
			name, params.Name, params.BioRaw,
		)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}

		if err := insertMapping(tx, domain.FamilyGroup, params.ImportID, id); err != nil {
			return err
		}
		if err := ew.LogCreated(tx, domain.FamilyGroup, params.ImportID, id, map[string]interface{}{"name": name}); err != nil {
			return err
		}

		group = &domain.Group{ID: id, Name: name, FullName: params.Name}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// AddMember adds a user to a group. Returns false when already a member.
func (gs *GroupStore) AddMember(groupID, userID int64) (bool, error) {
	res, err := gs.store.db.Exec(
		"INSERT INTO group_users (group_id, user_id) VALUES (?, ?) ON CONFLICT (group_id, user_id) DO NOTHING",
		groupID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add user %d to group %d: %w", userID, groupID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemberCount returns the number of users in a group.
func (gs *GroupStore) MemberCount(groupID int64) (int, error) {
	var n int
	if err := gs.store.db.QueryRow("SELECT COUNT(*) FROM group_users WHERE group_id = ?", groupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count group members: %w", err)
	}
	return n, nil
}

func uniqueGroupName(tx *sql.Tx, base string) (string, error) {
	candidate := base
	for n := 1; ; n++ {
		var exists int
		if err := tx.QueryRow("SELECT COUNT(*) FROM groups WHERE name = ?", candidate).Scan(&exists); err != nil {
			return "", fmt.Errorf("failed to check group name: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = withSuffix(base, n, maxUsernameLength)
	}
}
