package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"deadline exceeded", context.DeadlineExceeded, FailureTransient},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), FailureTransient},
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, FailureTransient},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, FailureTransient},
		{"auth failure", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, FailureFatal},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, FailureFatal},
		{"malformed response", fmt.Errorf("parse: %w", ErrMalformedResponse), FailureFatal},
		{"unknown error", errors.New("connection reset by peer"), FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorResult(t *testing.T) {
	t.Parallel()

	res := ErrorResult("a.go", "service rejected batch")

	assert.Equal(t, "a.go", res.Path)
	assert.True(t, res.IsError())
	assert.True(t, res.HasViolations())
	assert.Equal(t, SeverityError, res.Violations[0].Severity)
}

func TestResult_IsError_FalseForGenuineViolations(t *testing.T) {
	t.Parallel()

	res := Result{
		Path:       "a.go",
		Violations: []Violation{{Rule: "naming", Message: "m", Severity: SeverityWarn}},
	}

	assert.False(t, res.IsError())
}
