// Package sink streams completed results to their destination as they are
// produced. Writes are append-only and flushed per batch, so a reader
// tailing the destination mid-run always observes a well-formed prefix of
// the final output.
package sink

import (
	"errors"
	"io"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
)

// Sink receives completed results incrementally. Every exit path must call
// Close; Append never buffers more than the current record.
type Sink interface {
	Append(result analysis.Result) error
	Flush() error
	Close() error
}

// Tee fans every operation out to multiple sinks, e.g. a destination file
// mirrored to stdout.
type Tee []Sink

// NewTee combines sinks into one.
func NewTee(sinks ...Sink) Tee {
	return Tee(sinks)
}

// Append implements Sink.
func (t Tee) Append(result analysis.Result) error {
	var errs []error

	for _, s := range t {
		errs = append(errs, s.Append(result))
	}

	return errors.Join(errs...)
}

// Flush implements Sink.
func (t Tee) Flush() error {
	var errs []error

	for _, s := range t {
		errs = append(errs, s.Flush())
	}

	return errors.Join(errs...)
}

// Close implements Sink.
func (t Tee) Close() error {
	var errs []error

	for _, s := range t {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}

// closeWriter closes w when it supports closing. Callers that must keep the
// underlying handle open (stdout) pass a plain io.Writer.
func closeWriter(w io.Writer) error {
	if closer, ok := w.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
