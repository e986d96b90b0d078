// Package resilience wraps token acquisition in retry and circuit-breaker
// layers. The retry layer sits inside the breaker, so one exhausted retry
// sequence counts as a single breaker failure.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/logger"
)

// Retry runs an operation with exponential backoff. Non-retriable errors
// (Unauthorized, ScopeDenied, MalformedResponse) abort immediately.
type Retry struct {
	server string
	policy config.RetryConfig
}

// NewRetry creates a retry wrapper for one server.
func NewRetry(server string, policy config.RetryConfig) *Retry {
	return &Retry{server: server, policy: policy}
}

// Run executes op up to MaxAttempts times. A retriable error that survives
// every attempt is wrapped in RetriesExhausted with the last failure as
// cause; a non-retriable error is returned unchanged after one attempt.
func (r *Retry) Run(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.policy.InitialDelay()
	expBackoff.MaxInterval = r.policy.MaxDelay()
	expBackoff.Multiplier = r.policy.Multiplier
	expBackoff.RandomizationFactor = r.policy.JitterRatio
	expBackoff.Reset()

	attempt := 0
	var lastErr error

	operation := func() (any, error) {
		attempt++
		result, err := op(ctx)
		if err != nil {
			lastErr = err
			if !errors.Retriable(err) {
				return nil, backoff.Permanent(err)
			}
			logger.Warnw("Token acquisition attempt failed",
				"server", r.server, "attempt", attempt, "max_attempts", r.policy.MaxAttempts, "error", err.Error())
			return nil, err
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithNotify(func(_ error, duration time.Duration) {
			logger.Debugw("Retrying token acquisition",
				"server", r.server, "delay", duration.String())
		}),
	)
	if err == nil {
		return result, nil
	}

	if lastErr == nil {
		// Aborted before the first attempt completed (context cancellation).
		return nil, errors.NewNetworkError("token acquisition aborted", err)
	}
	if !errors.Retriable(lastErr) {
		return nil, lastErr
	}
	return nil, errors.NewRetriesExhaustedError(
		fmt.Sprintf("all %d attempts failed for server %s", r.policy.MaxAttempts, r.server), lastErr)
}
