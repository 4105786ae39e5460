package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
)

// JSONLines writes one self-contained JSON object per result, newline
// terminated. Each line is independently valid, so partial output from an
// interrupted run is still parseable.
type JSONLines struct {
	w   io.Writer
	buf *bufio.Writer
}

// NewJSONLines creates a JSON Lines sink over w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w, buf: bufio.NewWriter(w)}
}

// Append implements Sink with one compact JSON object per line.
func (s *JSONLines) Append(result analysis.Result) error {
	if result.Violations == nil {
		result.Violations = []analysis.Violation{}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	data = append(data, '\n')

	_, err = s.buf.Write(data)
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}

	return nil
}

// Flush implements Sink.
func (s *JSONLines) Flush() error {
	err := s.buf.Flush()
	if err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// Close flushes and releases the underlying handle.
func (s *JSONLines) Close() error {
	err := s.Flush()
	if err != nil {
		return err
	}

	return closeWriter(s.w)
}
