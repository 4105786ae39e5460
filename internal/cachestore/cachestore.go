// Package cachestore persists prior analysis results keyed by content
// fingerprint, gated by the guidelines document fingerprint.
package cachestore

import (
	"log/slog"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/pkg/persist"
)

// Entry is the cached analysis outcome for one file.
type Entry struct {
	FileFingerprint   string          `json:"fileFingerprint"`
	PolicyFingerprint string          `json:"policyFingerprint"`
	Result            analysis.Result `json:"result"`
}

// Cache maps repository-relative paths to their cached entries.
// The top-level PolicyFingerprint records the guidelines document the
// entries were produced against; a different current fingerprint makes
// every entry stale, regardless of file content.
type Cache struct {
	PolicyFingerprint string           `json:"policyFingerprint"`
	Entries           map[string]Entry `json:"entries"`
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{Entries: make(map[string]Entry)}
}

// Lookup returns the cached result for path when both the file fingerprint
// and the policy fingerprint still match. Stale entries are never returned.
func (c *Cache) Lookup(path, fileFingerprint, policyFingerprint string) (analysis.Result, bool) {
	entry, found := c.Entries[path]
	if !found {
		return analysis.Result{}, false
	}

	if entry.FileFingerprint != fileFingerprint || entry.PolicyFingerprint != policyFingerprint {
		return analysis.Result{}, false
	}

	return entry.Result, true
}

// Merge records fresh results, keyed with the current policy fingerprint.
// Synthesized analysis-error results are not cached: a failed batch must be
// re-sent on the next run. Results without a known fingerprint are skipped.
func (c *Cache) Merge(results []analysis.Result, fingerprints map[string]string, policyFingerprint string) {
	c.PolicyFingerprint = policyFingerprint

	if c.Entries == nil {
		c.Entries = make(map[string]Entry)
	}

	for _, res := range results {
		if res.IsError() {
			continue
		}

		fp, known := fingerprints[res.Path]
		if !known {
			continue
		}

		c.Entries[res.Path] = Entry{
			FileFingerprint:   fp,
			PolicyFingerprint: policyFingerprint,
			Result:            res,
		}
	}
}

// Store handles durable cache I/O at a fixed path.
type Store struct {
	persister *persist.Persister[Cache]
	logger    *slog.Logger
}

// NewStore creates a cache store. When compress is set, snapshots are
// LZ4-compressed on disk.
func NewStore(path string, compress bool, logger *slog.Logger) *Store {
	var codec persist.Codec = persist.NewJSONCodec()
	if compress {
		codec = persist.NewLZ4Codec()
	}

	return &Store{
		persister: persist.NewPersister[Cache](path, codec),
		logger:    logger,
	}
}

// Path returns the on-disk location of the cache snapshot.
func (s *Store) Path() string {
	return s.persister.Path()
}

// Load reads the cache snapshot. Missing or corrupt snapshots yield an
// empty cache, never an error: the cache is an optimization, not a record.
func (s *Store) Load() *Cache {
	cache, err := s.persister.Load()
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("starting with empty cache", "path", s.persister.Path(), "reason", err)
		}

		return NewCache()
	}

	if cache.Entries == nil {
		cache.Entries = make(map[string]Entry)
	}

	return cache
}

// Save atomically replaces the cache snapshot. The on-disk file is always
// either the previous full snapshot or the new one.
func (s *Store) Save(cache *Cache) error {
	return s.persister.Save(cache)
}
