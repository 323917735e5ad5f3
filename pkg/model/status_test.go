package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusConfigured},
		{StatusConfigured, StatusStarting},
		{StatusStarting, StatusRunning},
		{StatusStarting, StatusFailed},
		{StatusRunning, StatusDegraded},
		{StatusRunning, StatusPaused},
		{StatusRunning, StatusStopped},
		{StatusDegraded, StatusRunning},
		{StatusDegraded, StatusFailed},
		{StatusFailed, StatusStarting},
		{StatusPaused, StatusStarting},
		{StatusStopped, StatusStarting},
		{StatusStopped, StatusConfigured},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusDraft, StatusRunning},
		{StatusDraft, StatusStarting},
		{StatusRunning, StatusRunning},
		{StatusRunning, StatusConfigured},
		{StatusStopped, StatusPaused},
		{StatusPaused, StatusRunning},
		{StatusFailed, StatusRunning},
		{StatusConfigured, StatusStopped},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusStarting.IsActive())
	assert.True(t, StatusRunning.IsActive())
	assert.True(t, StatusDegraded.IsActive())
	assert.False(t, StatusPaused.IsActive())
	assert.False(t, StatusStopped.IsActive())

	assert.False(t, StatusRunning.AllowsConfigWrite())
	assert.False(t, StatusStarting.AllowsConfigWrite())
	assert.True(t, StatusPaused.AllowsConfigWrite())
	assert.True(t, StatusDraft.AllowsConfigWrite())
	assert.True(t, StatusDegraded.AllowsConfigWrite())
}

func TestValidSlug(t *testing.T) {
	valid := []string{"orders", "core-banking-1", "a-b-c", "abc"}
	for _, s := range valid {
		assert.True(t, ValidSlug(s), "%q should be a valid slug", s)
	}
	invalid := []string{"", "ab", "UPPER", "has_underscore", "-leading", "trailing-", "double--hyphen", "with space"}
	for _, s := range invalid {
		assert.False(t, ValidSlug(s), "%q should be rejected", s)
	}
}

func TestDLQRetryable(t *testing.T) {
	e := DLQEntry{Resolution: ResolutionPending, RetryCount: 2, MaxRetries: 3}
	assert.True(t, e.Retryable())

	e.RetryCount = 3
	assert.False(t, e.Retryable())

	e = DLQEntry{Resolution: ResolutionDiscarded, RetryCount: 0, MaxRetries: 3}
	assert.False(t, e.Retryable())
}

func TestSummarize(t *testing.T) {
	buckets := []MetricBucket{
		{RecordsIn: 100, RecordsOut: 90, RecordsFailed: 5, RecordsDeduped: 5, BatchCount: 2, TotalLatencyMS: 100},
		{RecordsIn: 50, RecordsOut: 50, BatchCount: 1, TotalLatencyMS: 20},
	}
	s := Summarize("p1", buckets[0].BucketStart, buckets[1].BucketStart, buckets)
	assert.Equal(t, int64(150), s.RecordsIn)
	assert.Equal(t, int64(140), s.RecordsOut)
	assert.Equal(t, int64(5), s.RecordsFailed)
	assert.Equal(t, int64(5), s.RecordsDeduped)
	// 5 failures out of 145 processed (150 in - 5 deduped).
	assert.InDelta(t, 5.0/145.0, s.ErrorRate, 1e-9)
	assert.InDelta(t, 40.0, s.AvgLatencyMS, 1e-9)
}
