package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/internal/cachestore"
	"github.com/Sumatoshi-tech/guidelint/internal/changeset"
	"github.com/Sumatoshi-tech/guidelint/internal/fingerprint"
	"github.com/Sumatoshi-tech/guidelint/internal/scheduler"
)

// fakeService scripts per-call outcomes and records every batch it receives.
type fakeService struct {
	batches [][]analysis.FileContent
	errs    []error // Consumed per call; nil entries mean success.
}

func (f *fakeService) Analyze(_ context.Context, _ string, batch []analysis.FileContent) ([]analysis.Result, error) {
	f.batches = append(f.batches, batch)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]

		if err != nil {
			return nil, err
		}
	}

	results := make([]analysis.Result, 0, len(batch))
	for _, file := range batch {
		results = append(results, analysis.Result{Path: file.Path, Violations: []analysis.Violation{}})
	}

	return results, nil
}

// memSink collects appended results.
type memSink struct {
	results []analysis.Result
	flushes int
}

func (m *memSink) Append(res analysis.Result) error {
	m.results = append(m.results, res)

	return nil
}

func (m *memSink) Flush() error {
	m.flushes++

	return nil
}

func (m *memSink) Close() error { return nil }

// fixture builds a tree of n files and the matching records/fingerprints.
func fixture(t *testing.T, n int) (root string, recs []changeset.FileRecord, fps map[string]string) {
	t.Helper()

	root = t.TempDir()
	fps = make(map[string]string, n)

	for i := range n {
		name := fmt.Sprintf("file%02d.go", i)
		content := fmt.Sprintf("package p%02d", i)
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))

		fp := fingerprint.Sum([]byte(content))
		recs = append(recs, changeset.FileRecord{Path: name, Fingerprint: fp, Size: int64(len(content))})
		fps[name] = fp
	}

	return root, recs, fps
}

func newOrchestrator(t *testing.T, root string, svc analysis.Service) (*Orchestrator, *memSink, *cachestore.Store) {
	t.Helper()

	store := cachestore.NewStore(filepath.Join(t.TempDir(), "cache.json"), false, nil)
	out := &memSink{}

	o := &Orchestrator{
		Service: svc,
		Store:   store,
		Sink:    out,
		Root:    root,
		Retry:   RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2.0},
		sleep:   func(context.Context, time.Duration) error { return nil },
	}

	return o, out, store
}

func TestRun_AllBatchesSequential(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 25)
	svc := &fakeService{}
	o, out, store := newOrchestrator(t, root, svc)

	batches := scheduler.Partition(recs, 10)
	require.Len(t, batches, 3)

	cache := cachestore.NewCache()
	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	stats, err := o.Run(context.Background(), "be nice", batches, fps, cache, "p1", tracker)
	require.NoError(t, err)

	// One call per batch, batch sizes 10/10/5.
	require.Len(t, svc.batches, 3)
	assert.Len(t, svc.batches[0], 10)
	assert.Len(t, svc.batches[2], 5)

	assert.Equal(t, 25, stats.FilesAnalyzed)
	assert.Equal(t, 3, stats.APICalls)
	assert.Zero(t, stats.Retries)

	// Sink received every result in batch order, flushed per batch.
	require.Len(t, out.results, 25)
	assert.Equal(t, "file00.go", out.results[0].Path)
	assert.Equal(t, "file24.go", out.results[24].Path)
	assert.Equal(t, 3, out.flushes)

	assert.True(t, tracker.IsComplete())

	// Cache snapshot was persisted with every file.
	persisted := store.Load()
	assert.Len(t, persisted.Entries, 25)
	assert.Equal(t, "p1", persisted.PolicyFingerprint)
}

func TestRun_ResumeSkipsCompletedBatches(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 25)
	svc := &fakeService{}
	o, out, _ := newOrchestrator(t, root, svc)

	batches := scheduler.Partition(recs, 10)
	progressPath := filepath.Join(t.TempDir(), "progress.json")

	// A prior run finished batches 0 and 1 before being killed.
	prior := scheduler.NewTracker(progressPath, "p1", len(batches), nil)
	require.NoError(t, prior.MarkCompleted(0, nil))
	require.NoError(t, prior.MarkCompleted(1, nil))

	tracker, resumed := scheduler.LoadResumable(progressPath, "p1", len(batches), nil)
	require.True(t, resumed)

	_, err := o.Run(context.Background(), "be nice", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.NoError(t, err)

	// Only the final 5-file batch was analyzed.
	require.Len(t, svc.batches, 1)
	assert.Len(t, svc.batches[0], 5)
	assert.Equal(t, "file20.go", svc.batches[0][0].Path)
	assert.Len(t, out.results, 5)
	assert.True(t, tracker.IsComplete())
}

func TestRun_TransientFailureRetriesSameRequest(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 3)
	svc := &fakeService{errs: []error{
		&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests},
		&openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable},
		nil,
	}}
	o, out, _ := newOrchestrator(t, root, svc)

	var delays []time.Duration

	o.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)

		return nil
	}

	batches := scheduler.Partition(recs, 10)
	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	stats, err := o.Run(context.Background(), "g", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.APICalls)
	assert.Equal(t, 2, stats.Retries)
	require.Len(t, svc.batches, 3)
	assert.Equal(t, svc.batches[0], svc.batches[1], "retries must reuse the same request")

	// Exponential backoff with 0.5-1.5x jitter around 1ms then 2ms.
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0]/2)

	require.Len(t, out.results, 3)
	assert.False(t, out.results[0].IsError())
}

func TestRun_FatalFailureRecordsErrorsAndContinues(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 4)
	svc := &fakeService{errs: []error{&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}}}
	o, out, store := newOrchestrator(t, root, svc)

	batches := scheduler.Partition(recs, 2)
	require.Len(t, batches, 2)

	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	stats, err := o.Run(context.Background(), "g", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.NoError(t, err, "a fatal batch must not abort the run")

	assert.Equal(t, 1, stats.BatchErrors)
	assert.Equal(t, 2, stats.FilesAnalyzed, "second batch still analyzed")

	require.Len(t, out.results, 4)
	assert.True(t, out.results[0].IsError())
	assert.True(t, out.results[1].IsError())
	assert.False(t, out.results[2].IsError())

	// Failed files are not cached; they must be re-sent next run.
	persisted := store.Load()
	assert.Len(t, persisted.Entries, 2)

	assert.True(t, tracker.IsComplete(), "failed batches still count as completed")
}

func TestRun_ExhaustedRetriesBecomeBatchError(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 2)
	transient := &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}
	svc := &fakeService{errs: []error{transient, transient, transient}}
	o, out, _ := newOrchestrator(t, root, svc)

	batches := scheduler.Partition(recs, 10)
	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	stats, err := o.Run(context.Background(), "g", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.APICalls)
	assert.Equal(t, 1, stats.BatchErrors)
	require.Len(t, out.results, 2)
	assert.True(t, out.results[0].IsError())
}

// cancellingService cancels the run while "in flight".
type cancellingService struct {
	cancel context.CancelFunc
}

func (c *cancellingService) Analyze(ctx context.Context, _ string, _ []analysis.FileContent) ([]analysis.Result, error) {
	c.cancel()

	return nil, ctx.Err()
}

func TestRun_InterruptPropagatesImmediately(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	svc := &cancellingService{cancel: cancel}
	o, out, _ := newOrchestrator(t, root, svc)

	batches := scheduler.Partition(recs, 2)
	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	_, err := o.Run(ctx, "g", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.ErrorIs(t, err, context.Canceled)

	// No partial-batch state was persisted as completed.
	assert.Empty(t, out.results)
	assert.False(t, tracker.IsCompleted(0))
}

func TestProcessBatch_CancellationDuringReadsPropagates(t *testing.T) {
	t.Parallel()

	root, recs, _ := fixture(t, 3)
	svc := &fakeService{}
	o, _, _ := newOrchestrator(t, root, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stats Stats

	_, err := o.processBatch(ctx, "g", recs, &stats)
	require.ErrorIs(t, err, context.Canceled)

	// Nothing was sent: the batch never became per-file error results.
	assert.Empty(t, svc.batches)
}

func TestRun_PersistenceFailureAborts(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 2)
	svc := &fakeService{}
	o, _, _ := newOrchestrator(t, root, svc)

	// A cache path whose parent is a file makes every save fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	o.Store = cachestore.NewStore(filepath.Join(blocked, "cache.json"), false, nil)

	batches := scheduler.Partition(recs, 10)
	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	_, err := o.Run(context.Background(), "g", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestRun_UnreadableFileBecomesErrorResult(t *testing.T) {
	t.Parallel()

	root, recs, fps := fixture(t, 3)
	require.NoError(t, os.Remove(filepath.Join(root, "file01.go")))

	svc := &fakeService{}
	o, out, _ := newOrchestrator(t, root, svc)

	batches := scheduler.Partition(recs, 10)
	tracker := scheduler.NewTracker(filepath.Join(t.TempDir(), "progress.json"), "p1", len(batches), nil)

	_, err := o.Run(context.Background(), "g", batches, fps, cachestore.NewCache(), "p1", tracker)
	require.NoError(t, err)

	// The service only saw the two readable files.
	require.Len(t, svc.batches, 1)
	assert.Len(t, svc.batches[0], 2)

	// Output still covers all three, in batch order.
	require.Len(t, out.results, 3)
	assert.Equal(t, "file01.go", out.results[1].Path)
	assert.True(t, out.results[1].IsError())
}
