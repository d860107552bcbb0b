package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/hlmigrate/internal/domain"
)

type fakeLookup struct {
	mappings     map[domain.OriginKey]int64
	customFields map[string]int64
	err          error
	mappedCalls  int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		mappings:     map[domain.OriginKey]int64{},
		customFields: map[string]int64{},
	}
}

func (f *fakeLookup) TargetID(family domain.Family, key string) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.mappings[domain.OriginKey{Family: family, Key: key}]
	return id, ok, nil
}

func (f *fakeLookup) MappedIDs(family domain.Family, keys []string) (map[string]int64, error) {
	f.mappedCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]int64{}
	for _, k := range keys {
		if id, ok := f.mappings[domain.OriginKey{Family: family, Key: k}]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (f *fakeLookup) FindUserByImportID(key string) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	id, ok := f.customFields[key]
	return id, ok, nil
}

func TestMapLegacyID_DurableThenCache(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mappings[domain.OriginKey{Family: domain.FamilyCategory, Key: "D1"}] = 42
	r := New(lookup, -1)

	id, ok, err := r.MapLegacyID(domain.FamilyCategory, "D1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok, err = r.MapLegacyID(domain.FamilyCategory, "D2")
	require.NoError(t, err)
	assert.False(t, ok)

	r.Record(domain.FamilyCategory, "D2", 43)
	id, ok, err = r.MapLegacyID(domain.FamilyCategory, "D2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(43), id)

	// Families do not share keys.
	_, ok, err = r.MapLegacyID(domain.FamilyBlog, "D2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMapLegacyID_DurableWins(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mappings[domain.OriginKey{Family: domain.FamilyUser, Key: "U1"}] = 10
	r := New(lookup, -1)
	r.Record(domain.FamilyUser, "U1", 99)

	id, ok, err := r.MapLegacyID(domain.FamilyUser, "U1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), id)
}

func TestUserID_Ladder(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mappings[domain.OriginKey{Family: domain.FamilyUser, Key: "U1"}] = 10
	lookup.customFields["U2"] = 20
	r := New(lookup, -1)

	id, resolved, err := r.UserID("U1")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, int64(10), id)

	id, resolved, err = r.UserID("U2")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, int64(20), id)

	// The custom-field hit is cached for the rest of the run.
	delete(lookup.customFields, "U2")
	id, _, err = r.UserID("U2")
	require.NoError(t, err)
	assert.Equal(t, int64(20), id)

	id, resolved, err = r.UserID("U3")
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, int64(-1), id)

	id, resolved, err = r.UserID("")
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, int64(-1), id)
}

func TestUserID_LookupErrorPropagates(t *testing.T) {
	lookup := newFakeLookup()
	lookup.err = errors.New("database is locked")
	r := New(lookup, -1)

	_, _, err := r.UserID("U1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestCategoryID(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mappings[domain.OriginKey{Family: domain.FamilyCategory, Key: "D1"}] = 42
	r := New(lookup, -1)

	id, err := r.CategoryID("D1")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(42), *id)

	id, err = r.CategoryID("missing")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestAllExist(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mappings[domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: "P1"}] = 1
	lookup.mappings[domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: "P2"}] = 2
	r := New(lookup, -1)

	ok, err := r.AllExist(domain.FamilyDiscussionPost, []string{"P1", "P2", "P1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AllExist(domain.FamilyDiscussionPost, []string{"P1", "P3"})
	require.NoError(t, err)
	assert.False(t, ok)

	r.Record(domain.FamilyDiscussionPost, "P3", 3)
	ok, err = r.AllExist(domain.FamilyDiscussionPost, []string{"P1", "P3"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AllExist(domain.FamilyDiscussionPost, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AllExist(domain.FamilyDiscussionPost, []string{""})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.AllExist(domain.FamilyDiscussionPost, []string{"P1", "", "P2"})
	require.NoError(t, err)
	assert.False(t, ok, "a row without a key must not be skipped with its page")
}

func TestMappedBatch(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mappings[domain.OriginKey{Family: domain.FamilyDiscussionPost, Key: "P1"}] = 11
	r := New(lookup, -1)
	r.Record(domain.FamilyDiscussionPost, "P2", 12)

	ids, ok, err := r.MappedBatch(domain.FamilyDiscussionPost, []string{"P1", "P2"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]int64{"P1": 11, "P2": 12}, ids)

	// The durable hit is now cached.
	calls := lookup.mappedCalls
	_, ok, err = r.MappedBatch(domain.FamilyDiscussionPost, []string{"P1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, calls, lookup.mappedCalls)

	ids, ok, err = r.MappedBatch(domain.FamilyDiscussionPost, []string{"P1", "P9"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ids)
}

func TestAllExist_CacheOnlySkipsLookup(t *testing.T) {
	lookup := newFakeLookup()
	r := New(lookup, -1)
	r.Record(domain.FamilyBlog, "B1", 5)

	ok, err := r.AllExist(domain.FamilyBlog, []string{"B1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, lookup.mappedCalls)
}
