// Package registry maps legacy keys to target ids. The durable mapping table
// is consulted first; an in-run cache covers entities created earlier in the
// same run.
package registry

import (
	"fmt"
	"sync"

	"github.com/lherron/hlmigrate/internal/domain"
)

// Lookup is the durable side of the registry.
type Lookup interface {
	TargetID(family domain.Family, importID string) (int64, bool, error)
	MappedIDs(family domain.Family, keys []string) (map[string]int64, error)
	FindUserByImportID(importID string) (int64, bool, error)
}

// Registry resolves (family, legacy key) pairs to target ids.
type Registry struct {
	lookup        Lookup
	unknownUserID int64

	mu    sync.RWMutex
	cache map[domain.OriginKey]int64
}

// New creates a registry. unknownUserID is the sentinel account returned
// for authors that cannot be resolved.
func New(lookup Lookup, unknownUserID int64) *Registry {
	return &Registry{
		lookup:        lookup,
		unknownUserID: unknownUserID,
		cache:         make(map[domain.OriginKey]int64),
	}
}

// UnknownUserID returns the sentinel account id.
func (r *Registry) UnknownUserID() int64 {
	return r.unknownUserID
}

// MapLegacyID returns the target id for a legacy key, or false if none is
// known yet.
func (r *Registry) MapLegacyID(family domain.Family, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	id, ok, err := r.lookup.TargetID(family, key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to map %s %s: %w", family, key, err)
	}
	if ok {
		return id, true, nil
	}

	r.mu.RLock()
	id, ok = r.cache[domain.OriginKey{Family: family, Key: key}]
	r.mu.RUnlock()
	return id, ok, nil
}

// Record caches a mapping for the rest of the run. The durable write is
// done by the store as part of entity creation.
func (r *Registry) Record(family domain.Family, key string, targetID int64) {
	if key == "" {
		return
	}
	r.mu.Lock()
	r.cache[domain.OriginKey{Family: family, Key: key}] = targetID
	r.mu.Unlock()
}

// UserID resolves an author key: direct mapping, then the import_id custom
// field, then the unknown-user sentinel. resolved is false when the
// sentinel was used. Only lookup failures return an error.
func (r *Registry) UserID(key string) (id int64, resolved bool, err error) {
	if key == "" {
		return r.unknownUserID, false, nil
	}

	id, ok, err := r.MapLegacyID(domain.FamilyUser, key)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return id, true, nil
	}

	id, ok, err = r.lookup.FindUserByImportID(key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to search user %s: %w", key, err)
	}
	if ok {
		r.Record(domain.FamilyUser, key, id)
		return id, true, nil
	}

	return r.unknownUserID, false, nil
}

// CategoryID resolves a community or discussion key. Nil means unmapped.
func (r *Registry) CategoryID(key string) (*int64, error) {
	id, ok, err := r.MapLegacyID(domain.FamilyCategory, key)
	if err != nil || !ok {
		return nil, err
	}
	return &id, nil
}
