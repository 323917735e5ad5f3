package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// RetryPolicy controls the write-path retry loop.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Backoff returns the delay before the given attempt (1-based):
// exponential doubling with ±25% jitter, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<uint(attempt-1))
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4 //nolint:gosec // jitter, not crypto
	d += jitter
	if d < 0 {
		d = base
	}
	return d
}

// Do runs fn, retrying retryable failures up to MaxRetries times with
// backoff. Non-retryable errors return immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
