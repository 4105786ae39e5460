package sink

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
)

// Header width for the text report banner.
const bannerWidth = 70

// Text writes incremental human-readable sections, one per completed file.
type Text struct {
	w     io.Writer
	buf   *bufio.Writer
	ok    func(format string, a ...any) string
	warn  func(format string, a ...any) string
	fail  func(format string, a ...any) string
	plain bool
}

// NewText creates a text sink over w and writes the report banner.
// Colors are disabled when noColor is set (or globally by fatih/color
// when the writer is not a terminal).
func NewText(w io.Writer, noColor bool) (*Text, error) {
	s := &Text{
		w:     w,
		buf:   bufio.NewWriter(w),
		ok:    color.New(color.FgGreen).Sprintf,
		warn:  color.New(color.FgYellow).Sprintf,
		fail:  color.New(color.FgRed).Sprintf,
		plain: noColor,
	}

	if noColor {
		s.ok = fmt.Sprintf
		s.warn = fmt.Sprintf
		s.fail = fmt.Sprintf
	}

	banner := strings.Repeat("=", bannerWidth)

	_, err := fmt.Fprintf(s.buf, "%s\nGUIDELINES COMPLIANCE REPORT (STREAMING)\n%s\n\n", banner, banner)
	if err != nil {
		return nil, fmt.Errorf("write report header: %w", err)
	}

	err = s.buf.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush report header: %w", err)
	}

	return s, nil
}

// Append implements Sink with one section per file.
func (s *Text) Append(result analysis.Result) error {
	if !result.HasViolations() {
		fmt.Fprintf(s.buf, "%s %s\n   No violations\n\n", s.ok("[OK]"), result.Path)

		return nil
	}

	fmt.Fprintf(s.buf, "[FILE] %s\n   %d violation(s) found:\n\n", result.Path, len(result.Violations))

	for _, v := range result.Violations {
		lineRef := ""
		if v.Line != nil {
			lineRef = fmt.Sprintf(" (line %d)", *v.Line)
		}

		fmt.Fprintf(s.buf, "   %s [%s]%s\n      %s\n\n", s.severityTag(v.Severity), v.Rule, lineRef, v.Message)
	}

	return nil
}

func (s *Text) severityTag(sev analysis.Severity) string {
	switch sev {
	case analysis.SeverityError:
		return s.fail("[ERROR]")
	case analysis.SeverityWarn:
		return s.warn("[WARNING]")
	default:
		return s.ok("[INFO]")
	}
}

// Flush implements Sink.
func (s *Text) Flush() error {
	err := s.buf.Flush()
	if err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// Close flushes and releases the underlying handle.
func (s *Text) Close() error {
	err := s.Flush()
	if err != nil {
		return err
	}

	return closeWriter(s.w)
}
