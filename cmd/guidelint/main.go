// Package main provides the entry point for the guidelint CLI tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/guidelint/cmd/guidelint/commands"
	"github.com/Sumatoshi-tech/guidelint/internal/report"
	"github.com/Sumatoshi-tech/guidelint/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:   "guidelint",
		Short: "Guidelint - incremental guidelines compliance scanner",
		Long: `Guidelint scans a codebase against a project guidelines document.

Commands:
  check     Scan files for guidelines compliance`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err == nil {
		return report.ExitOK
	}

	switch {
	case errors.Is(err, commands.ErrViolationsFound):
		// The check command already reported details on its own streams.
		return report.ExitViolations
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted")

		return report.ExitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return report.ExitUsage
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "guidelint %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
