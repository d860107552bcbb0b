package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
)

// UserStore handles user persistence operations.
type UserStore struct {
	store *Store
}

// UserCreateParams contains parameters for creating an imported user.
type UserCreateParams struct {
	ImportID   string
	Username   string // suggestion; made valid and unique on insert
	Email      string
	Name       string
	CreatedAt  time.Time
	LastSeenAt *time.Time
}

// Create inserts a user, its import_id custom field and its mapping in one
// transaction, and logs a created event.
func (us *UserStore) Create(params UserCreateParams) (*domain.User, error) {
	if params.ImportID == "" {
		return nil, fmt.Errorf("user import id required")
	}

	var user *domain.User
	err := us.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		seed := params.Username
		if seed == "" {
			seed = params.Email
		}
		username, err := uniqueUsername(tx, SuggestUsername(seed))
		if err != nil {
			return err
		}

		var email interface{}
		if e := strings.ToLower(strings.TrimSpace(params.Email)); e != "" {
			email = e
		}

		res, err := tx.Exec(`
			INSERT INTO users (username, name, email, created_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?)
		`, username, params.Name, email, formatTime(params.CreatedAt), formatTimePtr(params.LastSeenAt))
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}

		_, err = tx.Exec(
			"INSERT INTO user_custom_fields (user_id, name, value) VALUES (?, 'import_id', ?)",
			id, params.ImportID,
		)
		if err != nil {
			return fmt.Errorf("failed to write user import_id: %w", err)
		}

		if err := insertMapping(tx, domain.FamilyUser, params.ImportID, id); err != nil {
			return err
		}

		if err := ew.LogCreated(tx, domain.FamilyUser, params.ImportID, id, map[string]interface{}{
			"username": username,
		}); err != nil {
			return err
		}

		user = &domain.User{
			ID:         id,
			Username:   username,
			Name:       params.Name,
			CreatedAt:  params.CreatedAt,
			LastSeenAt: params.LastSeenAt,
		}
		if email != nil {
			user.Email = email.(string)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Get returns a user by id.
func (us *UserStore) Get(id int64) (*domain.User, error) {
	var u domain.User
	var name, email, lastSeen sql.NullString
	var created string
	err := us.store.db.QueryRow(
		"SELECT id, username, name, email, created_at, last_seen_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Username, &name, &email, &created, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Name = name.String
	u.Email = email.String
	u.CreatedAt = parseTime(created)
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		u.LastSeenAt = &t
	}
	return &u, nil
}

func uniqueUsername(tx *sql.Tx, base string) (string, error) {
	candidate := base
	for n := 1; ; n++ {
		var exists int
		err := tx.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", candidate).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = withSuffix(base, n, maxUsernameLength)
	}
}
