package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/internal/changeset"
)

func records(n int) []changeset.FileRecord {
	recs := make([]changeset.FileRecord, 0, n)
	for i := range n {
		recs = append(recs, changeset.FileRecord{Path: fmt.Sprintf("file%02d.go", i)})
	}

	return recs
}

func TestPartition_FixedSizeBatches(t *testing.T) {
	t.Parallel()

	batches := Partition(records(25), 10)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	// Resolver order is preserved across batch boundaries.
	assert.Equal(t, "file00.go", batches[0][0].Path)
	assert.Equal(t, "file10.go", batches[1][0].Path)
	assert.Equal(t, "file24.go", batches[2][4].Path)
}

func TestPartition_Empty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Partition(nil, 10))
	assert.Nil(t, Partition(records(5), 0))
}

func TestPartition_ExactMultiple(t *testing.T) {
	t.Parallel()

	batches := Partition(records(20), 10)

	require.Len(t, batches, 2)
	assert.Len(t, batches[1], 10)
}

func TestTracker_MarkCompletedPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	tracker := NewTracker(path, "p1", 3, nil)

	assert.NotEmpty(t, tracker.RunID())
	assert.Equal(t, []int{0, 1, 2}, tracker.Remaining())

	require.NoError(t, tracker.MarkCompleted(0, []analysis.Result{{Path: "a.go"}}))
	require.NoError(t, tracker.MarkCompleted(1, []analysis.Result{{Path: "b.go"}}))

	// A new process resumes with exactly the completed work.
	resumed, ok := LoadResumable(path, "p1", 3, nil)
	require.True(t, ok)
	assert.Equal(t, tracker.RunID(), resumed.RunID())
	assert.True(t, resumed.IsCompleted(0))
	assert.True(t, resumed.IsCompleted(1))
	assert.False(t, resumed.IsCompleted(2))
	assert.Equal(t, []int{2}, resumed.Remaining())
	require.Len(t, resumed.Results(), 2)
	assert.Equal(t, "a.go", resumed.Results()[0].Path)
}

func TestLoadResumable_BatchCountMismatchDiscards(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	tracker := NewTracker(path, "p1", 3, nil)
	require.NoError(t, tracker.MarkCompleted(0, nil))

	// File set changed between runs: batch count differs.
	fresh, ok := LoadResumable(path, "p1", 4, nil)
	require.False(t, ok)
	assert.False(t, fresh.IsCompleted(0))
	assert.Equal(t, []int{0, 1, 2, 3}, fresh.Remaining())
	assert.NotEqual(t, tracker.RunID(), fresh.RunID())
}

func TestLoadResumable_PolicyMismatchDiscards(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	tracker := NewTracker(path, "old-policy", 3, nil)
	require.NoError(t, tracker.MarkCompleted(0, nil))

	_, ok := LoadResumable(path, "new-policy", 3, nil)
	assert.False(t, ok)
}

func TestLoadResumable_MissingFileStartsFresh(t *testing.T) {
	t.Parallel()

	tracker, ok := LoadResumable(filepath.Join(t.TempDir(), "absent.json"), "p1", 2, nil)
	require.False(t, ok)
	assert.Equal(t, []int{0, 1}, tracker.Remaining())
}

func TestLoadResumable_CorruptFileStartsFresh(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, ok := LoadResumable(path, "p1", 2, nil)
	assert.False(t, ok)
}

func TestTracker_CompleteAndCleanup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	tracker := NewTracker(path, "p1", 2, nil)

	require.NoError(t, tracker.MarkCompleted(0, nil))
	assert.False(t, tracker.IsComplete())

	require.NoError(t, tracker.MarkCompleted(1, nil))
	assert.True(t, tracker.IsComplete())

	require.NoError(t, tracker.Cleanup())

	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTracker_MarkCompletedIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	tracker := NewTracker(path, "p1", 2, nil)

	require.NoError(t, tracker.MarkCompleted(1, nil))
	require.NoError(t, tracker.MarkCompleted(1, nil))

	resumed, ok := LoadResumable(path, "p1", 2, nil)
	require.True(t, ok)
	assert.Equal(t, []int{0}, resumed.Remaining())
}
