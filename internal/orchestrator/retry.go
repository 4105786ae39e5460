package orchestrator

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Sumatoshi-tech/guidelint/internal/analysis"
)

// Retry tuning defaults. Three attempts with doubling delay resolves most
// transient failures without stalling the run; jitter spreads simultaneous
// retries across clients sharing a rate limit window.
const (
	DefaultMaxAttempts   = 3
	DefaultInitialDelay  = time.Second
	DefaultBackoffFactor = 2.0

	jitterMin  = 0.5
	jitterSpan = 1.0
)

// RetryPolicy bounds retries of transient service failures.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy returns the standard retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   DefaultMaxAttempts,
		InitialDelay:  DefaultInitialDelay,
		BackoffFactor: DefaultBackoffFactor,
	}
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepCtx waits for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// analyzeWithRetry invokes the service, retrying transient failures with
// exponential backoff and jitter up to the attempt ceiling. The same
// request is reused across attempts. Fatal failures and cancellation
// return immediately; exhausted retries return the last transient error,
// which the caller records as per-file error results.
func (o *Orchestrator) analyzeWithRetry(
	ctx context.Context,
	guidelines string,
	request []analysis.FileContent,
	stats *Stats,
) ([]analysis.Result, error) {
	policy := o.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	sleep := o.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	delay := policy.InitialDelay

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		stats.APICalls++

		results, err := o.Service.Analyze(ctx, guidelines, request)
		if err == nil {
			return results, nil
		}

		// Interrupts propagate immediately; they are never a retryable failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if analysis.Classify(err) == analysis.FailureFatal {
			return nil, err
		}

		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		jittered := time.Duration(float64(delay) * (jitterMin + rand.Float64()*jitterSpan))

		o.debug("transient failure, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", jittered,
			"error", err,
		)

		stats.Retries++

		err = sleep(ctx, jittered)
		if err != nil {
			return nil, err
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
	}

	return nil, lastErr
}
