// Package orchestrator drives the scan: it feeds each pending batch through
// the analysis service with bounded retry, merges results into the cache,
// streams them to the output sink, and persists progress after every batch.
// Batches run strictly sequentially; that trades throughput for the
// guarantee that an interrupted run loses at most one in-flight batch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/internal/cachestore"
	"github.com/Sumatoshi-tech/guidelint/internal/changeset"
	"github.com/Sumatoshi-tech/guidelint/internal/fingerprint"
	"github.com/Sumatoshi-tech/guidelint/internal/scheduler"
	"github.com/Sumatoshi-tech/guidelint/internal/sink"
)

// ErrPersistence marks cache, progress, or output writes that failed.
// Persistence failures abort the run: continuing would silently break the
// resumability guarantee.
var ErrPersistence = errors.New("state persistence failed")

// DefaultWorkers bounds the per-batch file read pool.
const DefaultWorkers = 4

// Stats aggregates run telemetry for the summary report.
type Stats struct {
	FilesAnalyzed int
	APICalls      int
	Retries       int
	BatchErrors   int
	BytesSent     int64
}

// Orchestrator runs pending batches against the analysis service.
type Orchestrator struct {
	Service     analysis.Service
	Store       *cachestore.Store
	Sink        sink.Sink
	Root        string
	Workers     int
	MaxFileSize int64
	Retry       RetryPolicy
	Logger      *slog.Logger

	// sleep is a test seam; nil means real context-aware sleeping.
	sleep sleepFunc
}

// Run processes every batch the tracker has not yet completed. After each
// batch the cache snapshot, the output sink, and the progress state are
// persisted, in that order, before the next batch starts. Context
// cancellation (interrupt) propagates immediately and is never converted
// into a per-batch error.
func (o *Orchestrator) Run(
	ctx context.Context,
	guidelines string,
	batches [][]changeset.FileRecord,
	fingerprints map[string]string,
	cache *cachestore.Cache,
	policyFingerprint string,
	tracker *scheduler.Tracker,
) (Stats, error) {
	var stats Stats

	for idx, batch := range batches {
		if tracker.IsCompleted(idx) {
			o.debug("skipping completed batch", "batch", idx)

			continue
		}

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		results, err := o.processBatch(ctx, guidelines, batch, &stats)
		if err != nil {
			return stats, err
		}

		cache.Merge(results, fingerprints, policyFingerprint)

		err = o.Store.Save(cache)
		if err != nil {
			return stats, fmt.Errorf("%w: save cache: %w", ErrPersistence, err)
		}

		err = o.emit(results)
		if err != nil {
			return stats, fmt.Errorf("%w: write output: %w", ErrPersistence, err)
		}

		err = tracker.MarkCompleted(idx, results)
		if err != nil {
			return stats, fmt.Errorf("%w: save progress: %w", ErrPersistence, err)
		}

		o.debug("batch completed", "batch", idx+1, "total", len(batches), "files", len(batch))
	}

	return stats, nil
}

// processBatch reads the batch contents and analyzes them. A fatal service
// failure (or exhausted retries) converts the batch into per-file error
// results so the run can continue; only cancellation returns an error.
func (o *Orchestrator) processBatch(
	ctx context.Context,
	guidelines string,
	batch []changeset.FileRecord,
	stats *Stats,
) ([]analysis.Result, error) {
	contents, readErrs := o.readBatch(ctx, batch)

	// Cancellation during reads must propagate, not become error results.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	request := make([]analysis.FileContent, 0, len(batch))

	for i := range batch {
		if readErrs[i] == nil {
			request = append(request, contents[i])
			stats.BytesSent += int64(len(contents[i].Content))
		}
	}

	var analyzed []analysis.Result

	if len(request) > 0 {
		var err error

		analyzed, err = o.analyzeWithRetry(ctx, guidelines, request, stats)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			o.warn("batch failed, recording error results", "error", err)

			stats.BatchErrors++

			analyzed = make([]analysis.Result, 0, len(request))
			for _, file := range request {
				analyzed = append(analyzed, analysis.ErrorResult(file.Path, err.Error()))
			}
		} else {
			stats.FilesAnalyzed += len(request)
		}
	}

	byPath := make(map[string]analysis.Result, len(analyzed))
	for _, res := range analyzed {
		byPath[res.Path] = res
	}

	// Reassemble in batch order, folding in per-file read failures.
	results := make([]analysis.Result, 0, len(batch))

	for i, rec := range batch {
		if readErrs[i] != nil {
			results = append(results, analysis.ErrorResult(rec.Path, readErrs[i].Error()))

			continue
		}

		results = append(results, byPath[rec.Path])
	}

	return results, nil
}

// readBatch loads file contents with a bounded worker pool. Reads are
// independent and read-only, so within-batch parallelism is safe; all
// cache and progress writes stay on the orchestrating goroutine.
func (o *Orchestrator) readBatch(ctx context.Context, batch []changeset.FileRecord) ([]analysis.FileContent, []error) {
	workers := o.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	contents := make([]analysis.FileContent, len(batch))
	readErrs := make([]error, len(batch))

	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup

	for i, rec := range batch {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			// Skip remaining reads once the run is cancelled.
			if err := ctx.Err(); err != nil {
				readErrs[i] = err

				return
			}

			data, err := fingerprint.ReadFile(filepath.Join(o.Root, rec.Path), o.MaxFileSize)
			if err != nil {
				readErrs[i] = err

				return
			}

			text, fellBack := fingerprint.DecodeText(data)
			if fellBack {
				o.debug("applied permissive decoding fallback", "path", rec.Path)
			}

			contents[i] = analysis.FileContent{Path: rec.Path, Content: text}
		}()
	}

	wg.Wait()

	return contents, readErrs
}

func (o *Orchestrator) emit(results []analysis.Result) error {
	for _, res := range results {
		err := o.Sink.Append(res)
		if err != nil {
			return err
		}
	}

	return o.Sink.Flush()
}

func (o *Orchestrator) debug(msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Debug(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.Logger != nil {
		o.Logger.Warn(msg, args...)
	}
}
