// Package gitcli shells out to git to list changed files for diff-based
// scan modes. Every invocation runs under a bounded timeout so a wedged
// git (lock contention, smudge filters) can never hang the scan.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 30 * time.Second

// Kind classifies how a file changed.
type Kind int

const (
	// Added indicates a new file.
	Added Kind = iota
	// Modified indicates changed content.
	Modified
	// Renamed indicates the file moved; Path is the new location.
	Renamed
	// Deleted indicates the file no longer exists. Deleted entries are
	// classified here and filtered out by the change set resolver.
	Deleted
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one changed file, repository-relative.
type Change struct {
	Path    string
	OldPath string // Set for renames.
	Kind    Kind
}

// Client runs git commands in a repository working directory.
type Client struct {
	Dir     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient creates a git client rooted at dir.
func NewClient(dir string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{Dir: dir, Timeout: timeout, Logger: logger}
}

// IsRepo reports whether Dir is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")

	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// DiffAgainst lists files changed between the merge base of ref and HEAD.
func (c *Client) DiffAgainst(ctx context.Context, ref string) ([]Change, error) {
	return c.diff(ctx, ref+"...HEAD")
}

// WorkingTree lists tracked files changed relative to HEAD plus untracked
// files not covered by gitignore.
func (c *Client) WorkingTree(ctx context.Context) ([]Change, error) {
	changes, err := c.diff(ctx, "HEAD")
	if err != nil {
		return nil, err
	}

	out, err := c.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(string(out), "\n") {
		path := strings.TrimSpace(line)
		if path != "" {
			changes = append(changes, Change{Path: path, Kind: Added})
		}
	}

	return changes, nil
}

// Staged lists files staged for the next commit.
func (c *Client) Staged(ctx context.Context) ([]Change, error) {
	return c.diff(ctx, "--cached")
}

func (c *Client) diff(ctx context.Context, selector string) ([]Change, error) {
	out, err := c.run(ctx, "diff", "--no-color", "--no-ext-diff", "--find-renames", selector)
	if err != nil {
		return nil, err
	}

	return ParsePatch(bytes.NewReader(out))
}

// ParsePatch converts git patch output into ordered Change records.
func ParsePatch(r *bytes.Reader) ([]Change, error) {
	files, _, err := gitdiff.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse git diff: %w", err)
	}

	changes := make([]Change, 0, len(files))

	for _, file := range files {
		switch {
		case file.IsDelete:
			changes = append(changes, Change{Path: file.OldName, Kind: Deleted})
		case file.IsRename:
			changes = append(changes, Change{Path: file.NewName, OldPath: file.OldName, Kind: Renamed})
		case file.IsNew, file.IsCopy:
			changes = append(changes, Change{Path: file.NewName, Kind: Added})
		default:
			changes = append(changes, Change{Path: file.NewName, Kind: Modified})
		}
	}

	return changes, nil
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = c.Dir

	if c.Logger != nil {
		c.Logger.Debug("running git", "args", args)
	}

	out, err := cmd.Output()
	if err != nil {
		// An interrupt on the parent context must surface unwrapped so the
		// caller can map it to the interrupted exit code.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("git %s timed out after %s", args[0], c.Timeout)
		}

		msg := err.Error()

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if detail := strings.TrimSpace(string(exitErr.Stderr)); detail != "" {
				msg = detail
			}
		}

		return nil, fmt.Errorf("git %s: %s", args[0], msg)
	}

	return out, nil
}
