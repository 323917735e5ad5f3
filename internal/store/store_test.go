package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func testPipeline(slug string) *model.Pipeline {
	return &model.Pipeline{
		Name:         "Orders from Kafka",
		Slug:         slug,
		ProviderKind: "kafka",
		Status:       model.StatusConfigured,
		Enabled:      true,
		Priority:     model.PriorityStandard,
		TargetTable:  "transactions",
		ProviderConfig: map[string]interface{}{
			"bootstrap_servers": "broker:9092",
			"topics":            []interface{}{"orders"},
		},
		CredentialReference: "vault:x:y",
		FieldMappings:       map[string]string{"amt": "amount"},
	}
}

func TestPipelineCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("orders-kafka")
	require.NoError(t, s.CreatePipeline(ctx, p))
	require.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Slug, got.Slug)
	assert.Equal(t, model.StatusConfigured, got.Status)
	assert.Equal(t, "broker:9092", got.ProviderConfig["bootstrap_servers"])
	assert.Equal(t, map[string]string{"amt": "amount"}, got.FieldMappings)

	bySlug, err := s.GetPipelineBySlug(ctx, "orders-kafka")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySlug.ID)

	list, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetPipeline(ctx, "nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSlugUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePipeline(ctx, testPipeline("dup-slug")))
	err := s.CreatePipeline(ctx, testPipeline("dup-slug"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestTransitionStatusCAS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("lifecycle")
	require.NoError(t, s.CreatePipeline(ctx, p))

	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusConfigured, model.StatusStarting))
	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusStarting, model.StatusRunning))

	// Stale CAS: the pipeline is running, not configured.
	err := s.TransitionStatus(ctx, p.ID, model.StatusConfigured, model.StatusStarting)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	// Illegal transitions are rejected before touching the row.
	err = s.TransitionStatus(ctx, p.ID, model.StatusRunning, model.StatusDraft)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestConfigWriteLockedWhileRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("locked")
	require.NoError(t, s.CreatePipeline(ctx, p))
	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusConfigured, model.StatusStarting))
	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusStarting, model.StatusRunning))

	p.Name = "renamed"
	err := s.UpdatePipelineConfig(ctx, p)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	// Operational fields stay writable in every status.
	require.NoError(t, s.UpdateOperational(ctx, p.ID, false, model.PriorityCritical, "data-eng", "paused for audit", []string{"prod"}))
	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, model.PriorityCritical, got.Priority)

	// After stopping, config writes go through again.
	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusRunning, model.StatusStopped))
	require.NoError(t, s.UpdatePipelineConfig(ctx, p))
	got, err = s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestWatermarkAndLastError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("watermark")
	require.NoError(t, s.CreatePipeline(ctx, p))
	require.NoError(t, s.SetWatermark(ctx, p.ID, "2026-08-27T00:00:00Z"))
	require.NoError(t, s.SetLastError(ctx, p.ID, "broker unreachable"))

	got, err := s.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-27T00:00:00Z", got.Watermark)
	assert.Equal(t, "broker unreachable", got.LastError)
}

func TestDeleteGuardsAndCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("delete-me")
	require.NoError(t, s.CreatePipeline(ctx, p))
	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusConfigured, model.StatusStarting))
	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusStarting, model.StatusRunning))

	err := s.DeletePipeline(ctx, p.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	require.NoError(t, s.InsertDLQEntry(ctx, &model.DLQEntry{
		PipelineID:   p.ID,
		MessageValue: []byte(`{"amt":1}`),
		ErrorMessage: "bad row",
		Stage:        model.StageValidate,
		MaxRetries:   3,
	}))
	require.NoError(t, s.UpsertMetricBucket(ctx, model.MetricBucket{
		PipelineID:  p.ID,
		BucketStart: time.Now().Truncate(time.Minute),
		RecordsIn:   10,
	}))

	require.NoError(t, s.TransitionStatus(ctx, p.ID, model.StatusRunning, model.StatusStopped))
	require.NoError(t, s.DeletePipeline(ctx, p.ID))

	entries, total, err := s.ListDLQEntries(ctx, p.ID, model.DLQFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)

	buckets, err := s.ListMetricBuckets(ctx, p.ID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestFleetSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePipeline(ctx, testPipeline("fleet-one")))
	require.NoError(t, s.CreatePipeline(ctx, testPipeline("fleet-two")))
	draft := testPipeline("fleet-draft")
	draft.Status = model.StatusDraft
	require.NoError(t, s.CreatePipeline(ctx, draft))

	sum, err := s.FleetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.ByStatus[model.StatusConfigured])
	assert.Equal(t, 1, sum.ByStatus[model.StatusDraft])
}

func TestDLQLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("dlq-pipe")
	require.NoError(t, s.CreatePipeline(ctx, p))

	e := &model.DLQEntry{
		PipelineID:   p.ID,
		MessageKey:   "k1",
		MessageValue: []byte(`{"amt":"x"}`),
		ErrorType:    "data",
		ErrorMessage: "amount is not numeric",
		Stage:        model.StageValidate,
		MaxRetries:   2,
	}
	require.NoError(t, s.InsertDLQEntry(ctx, e))
	assert.Equal(t, model.ResolutionPending, e.Resolution)

	got, err := s.GetDLQEntry(ctx, p.ID, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Retryable())

	// Exhaust the retry budget; the guarded increment then conflicts.
	require.NoError(t, s.IncrementDLQRetry(ctx, e.ID))
	require.NoError(t, s.IncrementDLQRetry(ctx, e.ID))
	err = s.IncrementDLQRetry(ctx, e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	got, err = s.GetDLQEntry(ctx, p.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.False(t, got.Retryable())

	require.NoError(t, s.DiscardDLQEntry(ctx, e.ID))
	// Terminal resolutions are immutable.
	err = s.ResolveDLQEntry(ctx, e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestDLQFiltersAndPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("dlq-filter")
	require.NoError(t, s.CreatePipeline(ctx, p))

	for i := 0; i < 5; i++ {
		stage := model.StageValidate
		if i%2 == 1 {
			stage = model.StageWrite
		}
		require.NoError(t, s.InsertDLQEntry(ctx, &model.DLQEntry{
			PipelineID:   p.ID,
			MessageValue: []byte("{}"),
			ErrorMessage: "x",
			Stage:        stage,
			MaxRetries:   3,
		}))
	}

	entries, total, err := s.ListDLQEntries(ctx, p.ID, model.DLQFilter{Stage: model.StageWrite})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)

	entries, total, err = s.ListDLQEntries(ctx, p.ID, model.DLQFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, entries, 1)

	retryable, err := s.ListRetryableDLQEntries(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, retryable, 5)
}

func TestMetricBucketAccumulation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := testPipeline("metrics-pipe")
	require.NoError(t, s.CreatePipeline(ctx, p))

	start := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMetricBucket(ctx, model.MetricBucket{
		PipelineID: p.ID, BucketStart: start,
		RecordsIn: 100, RecordsOut: 95, RecordsFailed: 5,
		BatchCount: 1, TotalLatencyMS: 40,
	}))
	require.NoError(t, s.UpsertMetricBucket(ctx, model.MetricBucket{
		PipelineID: p.ID, BucketStart: start,
		RecordsIn: 50, RecordsOut: 50,
		BatchCount: 1, TotalLatencyMS: 20,
	}))
	require.NoError(t, s.UpsertMetricBucket(ctx, model.MetricBucket{
		PipelineID: p.ID, BucketStart: start.Add(time.Minute),
		RecordsIn: 10, RecordsOut: 10, BatchCount: 1, TotalLatencyMS: 5,
	}))

	buckets, err := s.ListMetricBuckets(ctx, p.ID, start, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(150), buckets[0].RecordsIn)
	assert.Equal(t, int64(145), buckets[0].RecordsOut)
	assert.Equal(t, int64(5), buckets[0].RecordsFailed)
	assert.Equal(t, int64(2), buckets[0].BatchCount)
	assert.Equal(t, int64(60), buckets[0].TotalLatencyMS)

	pruned, err := s.PruneMetricBuckets(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
