package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/pkg/errors"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeConnection, "broker unreachable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeValidation, "bad record")
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeTimeout, "still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, BaseDelay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func() error {
		return errors.New(errors.ErrorTypeConnection, "down")
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestBackoffBounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Backoff(attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		// ±25% jitter around the capped exponential delay.
		assert.LessOrEqual(t, d, 30*time.Second+30*time.Second/4, "attempt %d", attempt)
	}

	// Early attempts stay near the base delay.
	d := p.Backoff(1)
	assert.GreaterOrEqual(t, d, time.Second*3/4)
	assert.LessOrEqual(t, d, time.Second*5/4)
}

func TestBackoffDefaults(t *testing.T) {
	var p RetryPolicy
	d := p.Backoff(1)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 2*time.Second)
}
