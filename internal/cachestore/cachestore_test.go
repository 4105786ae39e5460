package cachestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
)

func TestCache_Lookup(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Merge(
		[]analysis.Result{{Path: "a.go", Violations: []analysis.Violation{}}},
		map[string]string{"a.go": "fp1"},
		"policy1",
	)

	res, hit := cache.Lookup("a.go", "fp1", "policy1")
	require.True(t, hit)
	assert.Equal(t, "a.go", res.Path)

	_, hit = cache.Lookup("a.go", "fp2", "policy1")
	assert.False(t, hit, "changed file content must miss")

	_, hit = cache.Lookup("a.go", "fp1", "policy2")
	assert.False(t, hit, "changed guidelines must invalidate every entry")

	_, hit = cache.Lookup("b.go", "fp1", "policy1")
	assert.False(t, hit)
}

func TestCache_MergeSkipsErrorResults(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Merge(
		[]analysis.Result{analysis.ErrorResult("broken.go", "service failed")},
		map[string]string{"broken.go": "fp1"},
		"policy1",
	)

	_, hit := cache.Lookup("broken.go", "fp1", "policy1")
	assert.False(t, hit, "failed batches must be re-sent next run")
}

func TestCache_MergeOverwritesByPath(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	cache.Merge([]analysis.Result{{Path: "a.go"}}, map[string]string{"a.go": "fp1"}, "p1")
	cache.Merge([]analysis.Result{{Path: "a.go"}}, map[string]string{"a.go": "fp2"}, "p1")

	require.Len(t, cache.Entries, 1)
	assert.Equal(t, "fp2", cache.Entries["a.go"].FileFingerprint)
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "cache.json"), false, nil)

	cache := NewCache()
	cache.Merge([]analysis.Result{{Path: "a.go"}}, map[string]string{"a.go": "fp1"}, "p1")
	require.NoError(t, store.Save(cache))

	loaded := store.Load()
	assert.Equal(t, "p1", loaded.PolicyFingerprint)

	_, hit := loaded.Lookup("a.go", "fp1", "p1")
	assert.True(t, hit)
}

func TestStore_RoundTripCompressed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json.lz4")
	store := NewStore(path, true, nil)

	cache := NewCache()
	cache.Merge([]analysis.Result{{Path: "a.go"}}, map[string]string{"a.go": "fp1"}, "p1")
	require.NoError(t, store.Save(cache))

	loaded := store.Load()

	_, hit := loaded.Lookup("a.go", "fp1", "p1")
	assert.True(t, hit)
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "absent.json"), false, nil)

	cache := store.Load()
	require.NotNil(t, cache)
	assert.Empty(t, cache.Entries)
	assert.Empty(t, cache.PolicyFingerprint)
}

func TestStore_LoadCorruptIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	store := NewStore(path, false, nil)

	cache := store.Load()
	require.NotNil(t, cache)
	assert.Empty(t, cache.Entries)
}
