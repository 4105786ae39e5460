package analysis

import (
	"context"
	"errors"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMalformedResponse indicates the service reply could not be parsed or
// failed schema validation. Treated as fatal for the batch after retries.
var ErrMalformedResponse = errors.New("malformed analysis response")

// FailureClass partitions service failures into retryable and fatal.
type FailureClass int

const (
	// FailureTransient covers timeouts, rate limits, and 5xx-class errors.
	// The same request is retried with backoff.
	FailureTransient FailureClass = iota

	// FailureFatal covers authentication, client-side validation, and
	// malformed-response errors. Fatal for the batch only: the run
	// continues with synthesized per-file error results.
	FailureFatal
)

// Classify maps a service call error to its failure class.
// Context cancellation is never classified here; callers must check for it
// first so interrupts propagate instead of being retried.
func Classify(err error) FailureClass {
	if errors.Is(err, ErrMalformedResponse) {
		return FailureFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	// Unknown errors (connection resets, DNS hiccups) are assumed transient;
	// the attempt ceiling bounds the damage.
	return FailureTransient
}

func classifyStatus(status int) FailureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureTransient
	case status == http.StatusRequestTimeout:
		return FailureTransient
	case status >= http.StatusInternalServerError:
		return FailureTransient
	default:
		return FailureFatal
	}
}
