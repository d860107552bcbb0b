package registry

import (
	"fmt"

	"github.com/lherron/hlmigrate/internal/domain"
)

// AllExist reports whether every key of a batch is already mapped, either
// durably or in the run cache. A batch for which this holds is skipped as a
// whole; a partially mapped batch is processed in full and each record is
// checked again on create.
func (r *Registry) AllExist(family domain.Family, keys []string) (bool, error) {
	_, all, err := r.MappedBatch(family, keys)
	return all, err
}

// MappedBatch is AllExist returning the target id of every key when the
// whole batch is mapped. A batch holding an empty key is never complete:
// that row cannot be looked up and must go through the per-record path.
// Durable hits are cached for the rest of the run.
func (r *Registry) MappedBatch(family domain.Family, keys []string) (map[string]int64, bool, error) {
	ids := make(map[string]int64, len(keys))
	var missing []string

	r.mu.RLock()
	for _, k := range keys {
		if k == "" {
			r.mu.RUnlock()
			return nil, false, nil
		}
		if _, ok := ids[k]; ok {
			continue
		}
		id, ok := r.cache[domain.OriginKey{Family: family, Key: k}]
		if !ok {
			missing = append(missing, k)
		}
		ids[k] = id
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return ids, true, nil
	}

	mapped, err := r.lookup.MappedIDs(family, missing)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check %s batch: %w", family, err)
	}
	if len(mapped) != len(missing) {
		return nil, false, nil
	}
	for k, id := range mapped {
		ids[k] = id
		r.Record(family, k, id)
	}
	return ids, true, nil
}
