package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/model"
)

func aggFixture(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	// Hour-wide buckets so a test never straddles a bucket boundary.
	return NewAggregator(st, time.Hour, time.Hour, nil), st
}

func TestRecordBatchAccumulates(t *testing.T) {
	agg, st := aggFixture(t)
	ctx := context.Background()

	agg.RecordBatch("p1", BatchResult{RecordsIn: 100, RecordsOut: 95, RecordsFailed: 5, Latency: 40 * time.Millisecond})
	agg.RecordBatch("p1", BatchResult{RecordsIn: 50, RecordsOut: 50, Latency: 20 * time.Millisecond})

	require.NoError(t, agg.Flush(ctx))
	buckets, err := st.ListMetricBuckets(ctx, "p1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(150), buckets[0].RecordsIn)
	assert.Equal(t, int64(145), buckets[0].RecordsOut)
	assert.Equal(t, int64(5), buckets[0].RecordsFailed)
	assert.Equal(t, int64(2), buckets[0].BatchCount)
	assert.Equal(t, int64(60), buckets[0].TotalLatencyMS)
}

func TestSummaryIncludesCurrentBucket(t *testing.T) {
	agg, _ := aggFixture(t)
	ctx := context.Background()

	agg.RecordBatch("p1", BatchResult{RecordsIn: 200, RecordsOut: 180, RecordsFailed: 10, RecordsDeduped: 10, Latency: 100 * time.Millisecond})

	sum, err := agg.Summary(ctx, "p1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(200), sum.RecordsIn)
	assert.Equal(t, int64(180), sum.RecordsOut)
	assert.InDelta(t, 10.0/190.0, sum.ErrorRate, 1e-9)
	assert.InDelta(t, 100.0, sum.AvgLatencyMS, 1e-9)
}

func TestTakeHealthWindowDrains(t *testing.T) {
	agg, _ := aggFixture(t)

	// No window yet.
	rate, traffic := agg.TakeHealthWindow("p1")
	assert.False(t, traffic)
	assert.Zero(t, rate)

	agg.RecordBatch("p1", BatchResult{RecordsIn: 100, RecordsOut: 90, RecordsFailed: 10})
	rate, traffic = agg.TakeHealthWindow("p1")
	assert.True(t, traffic)
	assert.InDelta(t, 0.1, rate, 1e-9)

	// The take drained the window.
	_, traffic = agg.TakeHealthWindow("p1")
	assert.False(t, traffic)
}

func TestTakeHealthWindowAllDeduped(t *testing.T) {
	agg, _ := aggFixture(t)

	agg.RecordBatch("p1", BatchResult{RecordsIn: 50, RecordsDeduped: 50})
	rate, traffic := agg.TakeHealthWindow("p1")
	assert.True(t, traffic)
	assert.Zero(t, rate)
}

func TestFlushIsIdempotent(t *testing.T) {
	agg, st := aggFixture(t)
	ctx := context.Background()

	agg.RecordBatch("p1", BatchResult{RecordsIn: 10, RecordsOut: 10})
	require.NoError(t, agg.Flush(ctx))
	require.NoError(t, agg.Flush(ctx))

	buckets, err := st.ListMetricBuckets(ctx, "p1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(10), buckets[0].RecordsIn)
}

func TestSummarizeZeroTraffic(t *testing.T) {
	sum := model.Summarize("p1", time.Now(), time.Now(), nil)
	assert.Zero(t, sum.ErrorRate)
	assert.Zero(t, sum.AvgLatencyMS)
}
