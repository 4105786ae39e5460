// Package report renders the end-of-run summary and maps scan outcomes to
// process exit codes.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
)

// Process exit codes. Violations and per-batch analysis errors share code 1
// deliberately: CI treats both as "not clean". Structured output tells them
// apart via the analysis-error rule.
const (
	ExitOK          = 0
	ExitViolations  = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// SeverityCounts tallies violations by severity.
type SeverityCounts struct {
	Info  int `json:"info"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// Total returns the sum across severities.
func (c SeverityCounts) Total() int {
	return c.Info + c.Warn + c.Error
}

// Summary aggregates one run for reporting.
type Summary struct {
	RunID          string         `json:"runId"`
	Mode           string         `json:"mode"`
	FilesCollected int            `json:"filesCollected"`
	CacheHits      int            `json:"cacheHits"`
	FilesAnalyzed  int            `json:"filesAnalyzed"`
	FilesSkipped   int            `json:"filesSkipped"`
	APICalls       int            `json:"apiCalls"`
	Retries        int            `json:"retries"`
	BytesSent      int64          `json:"bytesSent"`
	Violations     SeverityCounts `json:"violations"`
	AnalysisErrors int            `json:"analysisErrors"`
}

// Tally counts genuine violations and analysis errors across results.
// Synthesized error results count as analysis errors, not violations.
func Tally(results []analysis.Result) (counts SeverityCounts, analysisErrors int) {
	for _, res := range results {
		if res.IsError() {
			analysisErrors++

			continue
		}

		for _, v := range res.Violations {
			switch v.Severity {
			case analysis.SeverityError:
				counts.Error++
			case analysis.SeverityWarn:
				counts.Warn++
			default:
				counts.Info++
			}
		}
	}

	return counts, analysisErrors
}

// ExitCode maps tallied results to the process exit code.
func ExitCode(counts SeverityCounts, analysisErrors int) int {
	if counts.Total() > 0 || analysisErrors > 0 {
		return ExitViolations
	}

	return ExitOK
}

// RenderTable writes the human-readable summary table.
func RenderTable(w io.Writer, s Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Scan Summary")

	tw.AppendRows([]table.Row{
		{"Run", s.RunID},
		{"Mode", s.Mode},
		{"Files collected", s.FilesCollected},
		{"Cache hits", s.CacheHits},
		{"Files analyzed", s.FilesAnalyzed},
		{"Files skipped", s.FilesSkipped},
		{"API calls", fmt.Sprintf("%d (%d retries)", s.APICalls, s.Retries)},
		{"Content sent", humanize.Bytes(uint64(s.BytesSent))},
	})

	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{"Violations", s.Violations.Total()},
		{"  error", s.Violations.Error},
		{"  warn", s.Violations.Warn},
		{"  info", s.Violations.Info},
		{"Analysis errors", s.AnalysisErrors},
	})

	tw.Render()
}

// WriteJSON appends the summary as a final self-contained JSON line,
// matching the JSON Lines result stream.
func WriteJSON(w io.Writer, s Summary) error {
	payload := struct {
		Summary Summary `json:"summary"`
	}{Summary: s}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	data = append(data, '\n')

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	return nil
}
