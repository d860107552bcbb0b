package store

import (
	"database/sql"
	"fmt"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/events"
)

// CategoryStore handles category persistence operations.
type CategoryStore struct {
	store *Store
}

// CategoryCreateParams contains parameters for creating an imported category.
type CategoryCreateParams struct {
	ImportID         string
	Name             string
	Description      string
	ParentCategoryID *int64
	UserID           int64
}

// Create inserts a category and maps it. Slugs are unique among siblings.
func (cs *CategoryStore) Create(params CategoryCreateParams) (*domain.Category, error) {
	if params.ImportID == "" {
		return nil, fmt.Errorf("category import id required")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("category name required")
	}

	var cat *domain.Category
	err := cs.store.withTx(func(tx *sql.Tx, ew *events.Writer) error {
		slug, err := uniqueSlug(tx, Slugify(params.Name), params.ParentCategoryID)
		if err != nil {
			return err
		}

		var position int
		if err := tx.QueryRow("SELECT COALESCE(MAX(position), 0) + 1 FROM categories").Scan(&position); err != nil {
			return fmt.Errorf("failed to compute category position: %w", err)
		}

		res, err := tx.Exec(`
			INSERT INTO categories (name, slug, description, parent_category_id, user_id, position)
			VALUES (?, ?, ?, ?, ?, ?)
		`, params.Name, slug, params.Description, params.ParentCategoryID, params.UserID, position)
		if err != nil {
			return fmt.Errorf("failed to create category: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}

		if err := insertMapping(tx, domain.FamilyCategory, params.ImportID, id); err != nil {
			return err
		}

		payload := map[string]interface{}{"name": params.Name, "slug": slug}
		if params.ParentCategoryID != nil {
			payload["parent_category_id"] = *params.ParentCategoryID
		}
		if err := ew.LogCreated(tx, domain.FamilyCategory, params.ImportID, id, payload); err != nil {
			return err
		}

		cat = &domain.Category{
			ID:               id,
			Name:             params.Name,
			Slug:             slug,
			Description:      params.Description,
			ParentCategoryID: params.ParentCategoryID,
			UserID:           params.UserID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// Get returns a category by id.
func (cs *CategoryStore) Get(id int64) (*domain.Category, error) {
	var c domain.Category
	var desc sql.NullString
	var parent sql.NullInt64
	err := cs.store.db.QueryRow(
		"SELECT id, name, slug, description, parent_category_id, user_id FROM categories WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Slug, &desc, &parent, &c.UserID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	c.Description = desc.String
	if parent.Valid {
		p := parent.Int64
		c.ParentCategoryID = &p
	}
	return &c, nil
}

func uniqueSlug(tx *sql.Tx, base string, parentID *int64) (string, error) {
	candidate := base
	for n := 1; ; n++ {
		var exists int
		err := tx.QueryRow(
			"SELECT COUNT(*) FROM categories WHERE slug = ? AND parent_category_id IS ?",
			candidate, parentID,
		).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check category slug: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = withSuffix(base+"-", n, maxSlugLength)
	}
}
