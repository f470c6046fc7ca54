package runner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryPolicy bounds the per-call retry loop for collaborator calls.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy suits chatty HTTP collaborators.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Backoff returns the delay before the given attempt (0-based), using
// exponential growth plus deterministic jitter. The jitter is a PRF of
// the scope and attempt so reruns are reproducible.
func (p RetryPolicy) Backoff(scope string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := time.Duration(int64(p.BaseDelay) * factor)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay + p.jitter(scope, attempt)
}

func (p RetryPolicy) jitter(scope string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", scope, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is always positive
}

// withRetry runs fn up to MaxAttempts times, sleeping the backoff
// between attempts. Permanent errors and context cancellation stop the
// loop immediately.
func (p RetryPolicy) withRetry(ctx context.Context, scope string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(scope, attempt-1)):
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			}
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !retryable(last) {
			return last
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, last)
}
