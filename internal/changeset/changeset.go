// Package changeset resolves the ordered set of files a scan must analyze:
// candidates from a tree walk or git, filtered by include/exclude patterns,
// pruned against the persistent result cache.
package changeset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/src-d/enry/v2"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/internal/cachestore"
	"github.com/Sumatoshi-tech/guidelint/internal/fingerprint"
	"github.com/Sumatoshi-tech/guidelint/internal/gitcli"
)

// Mode selects how scan candidates are discovered.
type Mode string

// Scan modes.
const (
	ModeFull    Mode = "full"    // Walk the entire tree.
	ModeDiff    Mode = "diff"    // Files changed since the merge base of a ref.
	ModeWorking Mode = "working" // Working-tree changes relative to HEAD.
	ModeStaged  Mode = "staged"  // Files staged for the next commit.
)

// FileRecord identifies one candidate file by path and content fingerprint.
type FileRecord struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
}

// Skipped records a candidate excluded from the change set, with the reason.
// Skipped files are reported, never silently dropped.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// GitLister is the git collaborator contract: ordered changed paths with a
// change classification, produced under a bounded timeout.
type GitLister interface {
	IsRepo(ctx context.Context) bool
	DiffAgainst(ctx context.Context, ref string) ([]gitcli.Change, error)
	WorkingTree(ctx context.Context) ([]gitcli.Change, error)
	Staged(ctx context.Context) ([]gitcli.Change, error)
}

// ChangeSet is the resolver output. Pending preserves discovery order so
// reruns batch deterministically; Reused carries cache hits that can be
// emitted without an analysis call.
type ChangeSet struct {
	Pending []FileRecord
	Reused  []analysis.Result
	Skipped []Skipped
}

// Fingerprints returns path → fingerprint for the pending records.
func (cs *ChangeSet) Fingerprints() map[string]string {
	fps := make(map[string]string, len(cs.Pending))
	for _, rec := range cs.Pending {
		fps[rec.Path] = rec.Fingerprint
	}

	return fps
}

// Resolver discovers and filters scan candidates.
type Resolver struct {
	Root        string
	Include     []string
	Exclude     []string
	MaxFileSize int64
	Git         GitLister
	Logger      *slog.Logger
}

// Resolve produces the change set for the given mode. Candidates whose
// fingerprint matches a cache entry carrying the current policy fingerprint
// are split off as reused results; everything else is pending. When the
// guidelines document changed since the cache was written, every lookup
// misses and all candidates become pending.
func (r *Resolver) Resolve(ctx context.Context, mode Mode, ref string, cache *cachestore.Cache, policyFingerprint string) (*ChangeSet, error) {
	candidates, err := r.candidates(ctx, mode, ref)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{}

	for _, path := range candidates {
		if !r.selected(path) {
			continue
		}

		data, err := fingerprint.ReadFile(filepath.Join(r.Root, path), r.MaxFileSize)
		if err != nil {
			if errors.Is(err, fingerprint.ErrUnreadableFile) {
				cs.Skipped = append(cs.Skipped, Skipped{Path: path, Reason: err.Error()})

				continue
			}

			return nil, err
		}

		if enry.IsBinary(data) {
			r.debug("skipping binary file", "path", path)

			continue
		}

		fp := fingerprint.Sum(data)

		if result, hit := cache.Lookup(path, fp, policyFingerprint); hit {
			cs.Reused = append(cs.Reused, result)

			continue
		}

		cs.Pending = append(cs.Pending, FileRecord{Path: path, Fingerprint: fp, Size: int64(len(data))})
	}

	return cs, nil
}

// candidates returns ordered repository-relative paths for the mode.
func (r *Resolver) candidates(ctx context.Context, mode Mode, ref string) ([]string, error) {
	if mode == ModeFull {
		return r.walk()
	}

	if !r.Git.IsRepo(ctx) {
		return nil, fmt.Errorf("mode %q requires a git repository at %s", mode, r.Root)
	}

	var (
		changes []gitcli.Change
		err     error
	)

	switch mode {
	case ModeDiff:
		if ref == "" {
			return nil, errors.New("diff mode requires a base ref")
		}

		changes, err = r.Git.DiffAgainst(ctx, ref)
	case ModeWorking:
		changes, err = r.Git.WorkingTree(ctx)
	case ModeStaged:
		changes, err = r.Git.Staged(ctx)
	default:
		return nil, fmt.Errorf("unknown scan mode %q", mode)
	}

	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(changes))

	for _, change := range changes {
		if change.Kind == gitcli.Deleted {
			r.debug("skipping deleted file", "path", change.Path)

			continue
		}

		paths = append(paths, change.Path)
	}

	return paths, nil
}

// walk lists the full tree in lexical order, skipping .git and vendored paths.
func (r *Resolver) walk() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(r.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(r.Root, path)
		if relErr != nil {
			return relErr
		}

		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}

			if rel != "." && enry.IsVendor(rel+"/") {
				r.debug("skipping vendored directory", "path", rel)

				return filepath.SkipDir
			}

			return nil
		}

		if enry.IsVendor(rel) {
			r.debug("skipping vendored file", "path", rel)

			return nil
		}

		paths = append(paths, rel)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", r.Root, err)
	}

	return paths, nil
}

// selected applies include then exclude patterns. Exclude wins: a file
// matching any exclude pattern is dropped regardless of include matches.
func (r *Resolver) selected(path string) bool {
	if len(r.Include) > 0 && !matchAny(r.Include, path) {
		return false
	}

	return !matchAny(r.Exclude, path)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, path)
		if err == nil && ok {
			return true
		}
	}

	return false
}

func (r *Resolver) debug(msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.Debug(msg, args...)
	}
}
