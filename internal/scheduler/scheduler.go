// Package scheduler partitions the pending change set into fixed-size
// batches and tracks per-batch completion durably, so a killed run resumes
// from the last completed batch instead of starting over.
package scheduler

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/internal/changeset"
	"github.com/Sumatoshi-tech/guidelint/pkg/persist"
)

// Partition splits records into batches of at most batchSize, preserving
// resolver order. Deterministic: identical inputs always produce identical
// batch boundaries, which the resume guard depends on.
func Partition(records []changeset.FileRecord, batchSize int) [][]changeset.FileRecord {
	if len(records) == 0 || batchSize <= 0 {
		return nil
	}

	batches := make([][]changeset.FileRecord, 0, (len(records)+batchSize-1)/batchSize)

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		batches = append(batches, records[start:end])
	}

	return batches
}

// ProgressState is the durable record of one run's progress. It is owned by
// a single Tracker for the duration of the run and removed on completion.
type ProgressState struct {
	RunID                 string            `json:"runId"`
	PolicyFingerprint     string            `json:"policyFingerprint"`
	TotalBatches          int               `json:"totalBatches"`
	CompletedBatchIndices []int             `json:"completedBatchIndices"`
	PendingResults        []analysis.Result `json:"pendingResults"`
}

// Tracker owns ProgressState for one run and persists it after every batch.
type Tracker struct {
	state     ProgressState
	completed map[int]bool
	persister *persist.Persister[ProgressState]
	logger    *slog.Logger
}

// NewTracker starts fresh progress for a run of totalBatches batches.
func NewTracker(path, policyFingerprint string, totalBatches int, logger *slog.Logger) *Tracker {
	return &Tracker{
		state: ProgressState{
			RunID:             uuid.NewString(),
			PolicyFingerprint: policyFingerprint,
			TotalBatches:      totalBatches,
		},
		completed: make(map[int]bool),
		persister: persist.NewPersister[ProgressState](path, persist.NewJSONCodec()),
		logger:    logger,
	}
}

// LoadResumable attempts to resume prior progress from path. Prior state is
// accepted only when both its batch count and its policy fingerprint match
// the current run; a file set that shifts batch boundaries between runs
// would otherwise replay stale batch indices against the wrong files. On
// any mismatch the prior progress is discarded and a fresh tracker is
// returned with resumed=false.
func LoadResumable(path, policyFingerprint string, totalBatches int, logger *slog.Logger) (tracker *Tracker, resumed bool) {
	fresh := NewTracker(path, policyFingerprint, totalBatches, logger)

	prior, err := fresh.persister.Load()
	if err != nil {
		return fresh, false
	}

	if prior.TotalBatches != totalBatches || prior.PolicyFingerprint != policyFingerprint {
		if logger != nil {
			logger.Info("discarding stale progress",
				"prior_batches", prior.TotalBatches,
				"current_batches", totalBatches,
				"policy_changed", prior.PolicyFingerprint != policyFingerprint,
			)
		}

		return fresh, false
	}

	resumedTracker := &Tracker{
		state:     *prior,
		completed: make(map[int]bool, len(prior.CompletedBatchIndices)),
		persister: fresh.persister,
		logger:    logger,
	}

	for _, idx := range prior.CompletedBatchIndices {
		resumedTracker.completed[idx] = true
	}

	if logger != nil {
		logger.Info("resuming prior run",
			"run_id", prior.RunID,
			"completed", len(prior.CompletedBatchIndices),
			"total", prior.TotalBatches,
		)
	}

	return resumedTracker, true
}

// RunID returns the identifier minted when this run first started.
func (t *Tracker) RunID() string {
	return t.state.RunID
}

// IsCompleted reports whether the batch at idx already finished.
func (t *Tracker) IsCompleted(idx int) bool {
	return t.completed[idx]
}

// Remaining returns the batch indices that still need processing, ascending.
func (t *Tracker) Remaining() []int {
	remaining := make([]int, 0, t.state.TotalBatches-len(t.completed))

	for idx := range t.state.TotalBatches {
		if !t.completed[idx] {
			remaining = append(remaining, idx)
		}
	}

	return remaining
}

// Results returns every result accumulated so far, in completion order.
func (t *Tracker) Results() []analysis.Result {
	return t.state.PendingResults
}

// MarkCompleted records the batch outcome and persists the state before the
// next batch may be scheduled. This is the resumability contract: once
// MarkCompleted returns, killing the process cannot lose this batch.
func (t *Tracker) MarkCompleted(idx int, results []analysis.Result) error {
	if !t.completed[idx] {
		t.completed[idx] = true

		t.state.CompletedBatchIndices = append(t.state.CompletedBatchIndices, idx)
		sort.Ints(t.state.CompletedBatchIndices)
	}

	t.state.PendingResults = append(t.state.PendingResults, results...)

	return t.persister.Save(&t.state)
}

// IsComplete reports whether every batch has finished.
func (t *Tracker) IsComplete() bool {
	return len(t.completed) == t.state.TotalBatches
}

// Cleanup removes the progress file after successful full completion.
func (t *Tracker) Cleanup() error {
	return t.persister.Remove()
}
