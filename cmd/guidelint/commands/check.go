// Package commands implements CLI command handlers for guidelint.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
	"github.com/Sumatoshi-tech/guidelint/internal/cachestore"
	"github.com/Sumatoshi-tech/guidelint/internal/changeset"
	"github.com/Sumatoshi-tech/guidelint/internal/config"
	"github.com/Sumatoshi-tech/guidelint/internal/fingerprint"
	"github.com/Sumatoshi-tech/guidelint/internal/gitcli"
	"github.com/Sumatoshi-tech/guidelint/internal/orchestrator"
	"github.com/Sumatoshi-tech/guidelint/internal/report"
	"github.com/Sumatoshi-tech/guidelint/internal/scheduler"
	"github.com/Sumatoshi-tech/guidelint/internal/sink"
)

var (
	// ErrViolationsFound signals a completed scan that found violations or
	// analysis errors. The entry point maps it to the violations exit code.
	ErrViolationsFound = errors.New("violations found")
	// ErrUsage marks invalid flag or configuration combinations.
	ErrUsage = errors.New("invalid usage")
	// ErrMissingAPIKey indicates the analysis service credential is not set.
	ErrMissingAPIKey = errors.New("analysis API key not set")
)

// CheckCommand holds configuration and dependencies for the check command.
type CheckCommand struct {
	configPath string
	full       bool
	diffRef    string
	working    bool
	staged     bool
	jsonOut    bool
	outputPath string
	batchSize  int
	noColor    bool
	verbose    bool
	quiet      bool
	path       string

	// service overrides the real analysis client in tests.
	service analysis.Service

	// stats carries run telemetry from stream to the summary.
	stats orchestrator.Stats
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return newCheckCommandWithDeps(nil)
}

func newCheckCommandWithDeps(service analysis.Service) *cobra.Command {
	cc := &CheckCommand{service: service}

	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Scan files for guidelines compliance",
		Long: "Scan files against the project guidelines document.\n" +
			"Unchanged files with cached results are reused without an analysis call.",
		Args:          cobra.MaximumNArgs(1),
		RunE:          cc.run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVarP(&cc.configPath, "config", "c", "", "Config file path (default: .guidelint.yaml in CWD or $HOME)")
	cmd.Flags().BoolVar(&cc.full, "full", false, "Scan the entire tree (default mode)")
	cmd.Flags().StringVar(&cc.diffRef, "diff", "", "Scan files changed since the merge base of the given ref")
	cmd.Flags().BoolVar(&cc.working, "working", false, "Scan working-tree changes relative to HEAD")
	cmd.Flags().BoolVar(&cc.staged, "staged", false, "Scan files staged for the next commit")
	cmd.Flags().BoolVar(&cc.jsonOut, "json", false, "Emit JSON Lines instead of the text report")
	cmd.Flags().StringVarP(&cc.outputPath, "output", "o", "", "Also stream results to this file as JSON Lines")
	cmd.Flags().IntVar(&cc.batchSize, "batch-size", 0, "Files per analysis request (0 = config value)")
	cmd.Flags().BoolVar(&cc.noColor, "no-color", false, "Disable colored text output")
	cmd.Flags().BoolVarP(&cc.verbose, "verbose", "v", false, "Show debug logging")
	cmd.Flags().BoolVarP(&cc.quiet, "quiet", "q", false, "Only log warnings and errors")
	cmd.Flags().StringVarP(&cc.path, "path", "p", ".", "Root directory to scan")

	return cmd
}

func (cc *CheckCommand) run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, ref, err := cc.resolveMode()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(cc.configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	batchSize := cfg.BatchSize
	if cc.batchSize > 0 {
		batchSize = cc.batchSize
	}

	root := cc.resolvePath(args)
	logger := cc.newLogger(cmd.ErrOrStderr())

	policyPath := resolveUnder(root, cfg.Policy)

	policyDoc, err := os.ReadFile(policyPath)
	if err != nil {
		return fmt.Errorf("%w: read guidelines document: %w", ErrUsage, err)
	}

	policyFingerprint := fingerprint.Sum(policyDoc)
	guidelines, _ := fingerprint.DecodeText(policyDoc)

	store := cachestore.NewStore(resolveUnder(root, cfg.Cache.Path), cfg.Cache.Compress, logger)
	cache := store.Load()

	git := gitcli.NewClient(root, time.Duration(cfg.Service.GitTimeoutSecs)*time.Second, logger)

	resolver := &changeset.Resolver{
		Root:        root,
		Include:     cfg.Include,
		Exclude:     append([]string{relativeTo(root, policyPath)}, cfg.Exclude...),
		MaxFileSize: cfg.MaxFileSize,
		Git:         git,
		Logger:      logger,
	}

	set, err := resolver.Resolve(ctx, mode, ref, cache, policyFingerprint)
	if err != nil {
		return fmt.Errorf("resolve change set: %w", err)
	}

	logger.Info("change set resolved",
		"mode", mode,
		"pending", len(set.Pending),
		"reused", len(set.Reused),
		"skipped", len(set.Skipped),
	)

	batches := scheduler.Partition(set.Pending, batchSize)
	tracker, resumed := scheduler.LoadResumable(resolveUnder(root, cfg.ProgressPath), policyFingerprint, len(batches), logger)

	out, outputFile, err := cc.buildSinks(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	runErr := cc.stream(ctx, cfg, guidelines, policyFingerprint, set, batches, cache, store, tracker, resumed, out, logger)
	if runErr != nil {
		_ = out.Close()

		return runErr
	}

	results := append(append([]analysis.Result{}, set.Reused...), tracker.Results()...)
	counts, analysisErrors := report.Tally(results)

	summary := report.Summary{
		RunID:          tracker.RunID(),
		Mode:           string(mode),
		FilesCollected: len(set.Pending) + len(set.Reused) + len(set.Skipped),
		CacheHits:      len(set.Reused),
		FilesAnalyzed:  cc.stats.FilesAnalyzed,
		FilesSkipped:   len(set.Skipped),
		APICalls:       cc.stats.APICalls,
		Retries:        cc.stats.Retries,
		BytesSent:      cc.stats.BytesSent,
		Violations:     counts,
		AnalysisErrors: analysisErrors,
	}

	err = cc.finish(cmd.OutOrStdout(), out, outputFile, summary)
	if err != nil {
		return err
	}

	cleanupErr := tracker.Cleanup()
	if cleanupErr != nil {
		logger.Warn("removing progress file failed", "error", cleanupErr)
	}

	if report.ExitCode(counts, analysisErrors) != report.ExitOK {
		return ErrViolationsFound
	}

	return nil
}

// stream emits cache hits and previously completed batches, then runs the
// remaining batches. Results reach the sink in discovery order: reused
// first, then batches by index.
func (cc *CheckCommand) stream(
	ctx context.Context,
	cfg *config.Config,
	guidelines string,
	policyFingerprint string,
	set *changeset.ChangeSet,
	batches [][]changeset.FileRecord,
	cache *cachestore.Cache,
	store *cachestore.Store,
	tracker *scheduler.Tracker,
	resumed bool,
	out sink.Sink,
	logger *slog.Logger,
) error {
	for _, res := range set.Reused {
		err := out.Append(res)
		if err != nil {
			return fmt.Errorf("write cached result: %w", err)
		}
	}

	if resumed {
		for _, res := range tracker.Results() {
			err := out.Append(res)
			if err != nil {
				return fmt.Errorf("write resumed result: %w", err)
			}
		}
	}

	err := out.Flush()
	if err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	if len(batches) == 0 {
		return nil
	}

	service, err := cc.buildService(cfg)
	if err != nil {
		return err
	}

	orch := &orchestrator.Orchestrator{
		Service:     service,
		Store:       store,
		Sink:        out,
		Root:        cc.pathOrDot(),
		Workers:     cfg.Workers,
		MaxFileSize: cfg.MaxFileSize,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  time.Duration(cfg.Retry.InitialDelaySec * float64(time.Second)),
			BackoffFactor: cfg.Retry.BackoffFactor,
		},
		Logger: logger,
	}

	stats, err := orch.Run(ctx, guidelines, batches, set.Fingerprints(), cache, policyFingerprint, tracker)
	cc.stats = stats

	if err != nil {
		return err
	}

	return nil
}

// finish flushes the result stream and appends the run summary: a table on
// stdout in text mode, a final JSON line in JSON mode, and a JSON line in
// the output file when one was requested.
func (cc *CheckCommand) finish(stdout io.Writer, out sink.Sink, outputFile *os.File, summary report.Summary) error {
	err := out.Flush()
	if err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	if outputFile != nil {
		err = report.WriteJSON(outputFile, summary)
		if err != nil {
			return err
		}
	}

	if cc.jsonOut {
		err = report.WriteJSON(stdout, summary)
	} else {
		report.RenderTable(stdout, summary)
	}

	if err != nil {
		return err
	}

	err = out.Close()
	if err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	return nil
}

// buildSinks assembles the output fan-out: stdout in the selected format,
// plus an optional JSON Lines file. The returned file handle, if any, is
// owned by the sink and closed with it.
func (cc *CheckCommand) buildSinks(stdout io.Writer) (sink.Sink, *os.File, error) {
	var sinks []sink.Sink

	// The stdout sink must not close the process stdout; the summary is
	// written there after the stream ends.
	shielded := nopCloseWriter{stdout}

	if cc.jsonOut {
		sinks = append(sinks, sink.NewJSONLines(shielded))
	} else {
		textSink, err := sink.NewText(shielded, cc.noColor)
		if err != nil {
			return nil, nil, fmt.Errorf("open text output: %w", err)
		}

		sinks = append(sinks, textSink)
	}

	var outputFile *os.File

	if cc.outputPath != "" {
		f, err := os.Create(cc.outputPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: create output file: %w", ErrUsage, err)
		}

		outputFile = f

		sinks = append(sinks, sink.NewJSONLines(f))
	}

	return sink.NewTee(sinks...), outputFile, nil
}

func (cc *CheckCommand) buildService(cfg *config.Config) (analysis.Service, error) {
	if cc.service != nil {
		return cc.service, nil
	}

	apiKey := os.Getenv(cfg.Service.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: export %s or set service.api_key_env", ErrMissingAPIKey, cfg.Service.APIKeyEnv)
	}

	return analysis.NewClient(analysis.ClientConfig{
		APIKey:  apiKey,
		BaseURL: cfg.Service.BaseURL,
		Model:   cfg.Service.Model,
		Timeout: time.Duration(cfg.Service.TimeoutSeconds) * time.Second,
	}), nil
}

func (cc *CheckCommand) resolveMode() (changeset.Mode, string, error) {
	selected := 0
	mode := changeset.ModeFull

	if cc.full {
		selected++
	}

	if cc.diffRef != "" {
		selected++
		mode = changeset.ModeDiff
	}

	if cc.working {
		selected++
		mode = changeset.ModeWorking
	}

	if cc.staged {
		selected++
		mode = changeset.ModeStaged
	}

	if selected > 1 {
		return "", "", fmt.Errorf("%w: --full, --diff, --working and --staged are mutually exclusive", ErrUsage)
	}

	return mode, cc.diffRef, nil
}

func (cc *CheckCommand) resolvePath(args []string) string {
	if len(args) > 0 {
		cc.path = args[0]
	}

	return cc.path
}

func (cc *CheckCommand) pathOrDot() string {
	if cc.path == "" {
		return "."
	}

	return cc.path
}

func (cc *CheckCommand) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo

	switch {
	case cc.verbose:
		level = slog.LevelDebug
	case cc.quiet:
		level = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// nopCloseWriter hides any Close method on the wrapped writer.
type nopCloseWriter struct {
	io.Writer
}

// resolveUnder anchors a relative path at the scan root; absolute paths
// pass through unchanged.
func resolveUnder(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(root, path)
}

// relativeTo returns path relative to root in slash form, matching the
// shape of scan candidate paths. Paths outside root pass through unchanged.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}

	return filepath.ToSlash(rel)
}
