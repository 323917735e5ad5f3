package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/internal/metrics"
	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/target"
)

// scriptedSource replays a fixed record stream, then reports done.
type scriptedSource struct {
	records   []model.Record
	pos       int
	watermark string
}

func (s *scriptedSource) Open(context.Context, core.OpenParams) error { return nil }

func (s *scriptedSource) Fetch(_ context.Context, max int) ([]model.Record, bool, error) {
	if s.pos >= len(s.records) {
		return nil, true, nil
	}
	end := s.pos + max
	if end > len(s.records) {
		end = len(s.records)
	}
	out := s.records[s.pos:end]
	s.pos = end
	return out, s.pos >= len(s.records), nil
}

func (s *scriptedSource) Checkpoint(context.Context) (string, error) { return s.watermark, nil }
func (s *scriptedSource) Close(context.Context) error                { return nil }

// failingWriter rejects every batch with the given error.
type failingWriter struct {
	err   error
	calls int
}

func (w *failingWriter) Write(context.Context, string, []model.Record) error {
	w.calls++
	return w.err
}
func (w *failingWriter) Close() error { return nil }

func depositRecord(i int) model.Record {
	return model.Record{
		Key: fmt.Sprintf("d-%d", i),
		Data: map[string]interface{}{
			"deposit_id":   fmt.Sprintf("d-%d", i),
			"account_id":   "a-1",
			"amount":       float64(i),
			"deposit_date": "2026-08-27",
		},
	}
}

func executorFixture(t *testing.T, src core.Source, w target.Writer, policy model.ProcessingPolicy) (*Executor, *store.Store, *model.Pipeline) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	p := &model.Pipeline{
		Name:         "Deposits",
		Slug:         "deposits-test",
		ProviderKind: "kafka",
		Status:       model.StatusConfigured,
		TargetTable:  "deposits",
	}
	require.NoError(t, st.CreatePipeline(context.Background(), p))

	exec := NewExecutor(ExecutorParams{
		Pipeline: p,
		Source:   src,
		Writer:   w,
		Store:    st,
		Policy:   ResolvePolicy(policy, 100, time.Second, 3),
		Retry:    RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond},
	})
	return exec, st, p
}

func TestExecutorBatchesBySize(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 250; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := target.NewMemoryWriter()
	exec, _, _ := executorFixture(t, src, w, model.ProcessingPolicy{BatchSize: 100})

	require.NoError(t, exec.Run(context.Background()))
	assert.Equal(t, []int{100, 100, 50}, w.BatchSizes())
	assert.Len(t, w.Records("deposits"), 250)
}

func TestExecutorDeadLettersInvalidRecords(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 100; i++ {
		rec := depositRecord(i)
		if i%20 == 0 {
			delete(rec.Data, "amount")
		}
		src.records = append(src.records, rec)
	}
	w := target.NewMemoryWriter()
	exec, st, p := executorFixture(t, src, w, model.ProcessingPolicy{BatchSize: 100})

	require.NoError(t, exec.Run(context.Background()))
	assert.Len(t, w.Records("deposits"), 95)

	entries, total, err := st.ListDLQEntries(context.Background(), p.ID, model.DLQFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	for _, e := range entries {
		assert.Equal(t, model.StageValidate, e.Stage)
		assert.Equal(t, model.ResolutionPending, e.Resolution)
		assert.Contains(t, string(e.MessageValue), "deposit_id")
	}
}

func TestExecutorDeduplicates(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 50; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	// Redeliver the first ten.
	for i := 0; i < 10; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := target.NewMemoryWriter()
	exec, _, _ := executorFixture(t, src, w,
		model.ProcessingPolicy{BatchSize: 100, DedupEnabled: true})

	require.NoError(t, exec.Run(context.Background()))
	assert.Len(t, w.Records("deposits"), 50)
}

func TestExecutorDedupByConfiguredField(t *testing.T) {
	src := &scriptedSource{records: []model.Record{
		{Key: "k1", Data: map[string]interface{}{"deposit_id": "d-1", "account_id": "a", "amount": 1.0, "deposit_date": "2026-08-27"}},
		{Key: "k2", Data: map[string]interface{}{"deposit_id": "d-1", "account_id": "a", "amount": 1.0, "deposit_date": "2026-08-27"}},
	}}
	w := target.NewMemoryWriter()
	exec, _, _ := executorFixture(t, src, w,
		model.ProcessingPolicy{BatchSize: 10, DedupEnabled: true, DedupField: "deposit_id"})

	require.NoError(t, exec.Run(context.Background()))
	assert.Len(t, w.Records("deposits"), 1)
}

func TestExecutorWriteFailureDeadLettersBatch(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 30; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := &failingWriter{err: errors.New(errors.ErrorTypeData, "schema mismatch")}
	exec, st, p := executorFixture(t, src, w, model.ProcessingPolicy{BatchSize: 10})

	require.NoError(t, exec.Run(context.Background()))
	assert.Equal(t, 3, w.calls)

	entries, total, err := st.ListDLQEntries(context.Background(), p.ID, model.DLQFilter{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 30, total)
	for _, e := range entries {
		assert.Equal(t, model.StageWrite, e.Stage)
	}
}

func TestExecutorPersistsWatermark(t *testing.T) {
	src := &scriptedSource{watermark: "2026-08-27T12:00:00Z"}
	for i := 0; i < 5; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := target.NewMemoryWriter()
	exec, st, p := executorFixture(t, src, w, model.ProcessingPolicy{BatchSize: 10})

	require.NoError(t, exec.Run(context.Background()))
	got, err := st.GetPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-27T12:00:00Z", got.Watermark)
}

func TestExecutorSkipsValidationWhenDisabled(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 20; i++ {
		rec := depositRecord(i)
		if i%4 == 0 {
			delete(rec.Data, "amount")
		}
		src.records = append(src.records, rec)
	}
	w := target.NewMemoryWriter()
	off := false
	exec, st, p := executorFixture(t, src, w,
		model.ProcessingPolicy{BatchSize: 100, SchemaValidationEnabled: &off})

	require.NoError(t, exec.Run(context.Background()))
	// Every record lands, holes and all.
	assert.Len(t, w.Records("deposits"), 20)

	_, total, err := st.ListDLQEntries(context.Background(), p.ID, model.DLQFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestExecutorCountsFailuresWithoutDLQ(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 20; i++ {
		rec := depositRecord(i)
		if i%4 == 0 {
			delete(rec.Data, "amount")
		}
		src.records = append(src.records, rec)
	}
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	p := &model.Pipeline{
		Name:         "Deposits",
		Slug:         "deposits-nodlq",
		ProviderKind: "kafka",
		Status:       model.StatusConfigured,
		TargetTable:  "deposits",
	}
	require.NoError(t, st.CreatePipeline(context.Background(), p))

	// Hour-wide buckets so a test never straddles a bucket boundary.
	agg := metrics.NewAggregator(st, time.Hour, time.Hour, nil)
	w := target.NewMemoryWriter()
	off := false
	exec := NewExecutor(ExecutorParams{
		Pipeline: p,
		Source:   src,
		Writer:   w,
		Store:    st,
		Agg:      agg,
		Policy:   ResolvePolicy(model.ProcessingPolicy{BatchSize: 100, DLQEnabled: &off}, 100, time.Second, 3),
		Retry:    RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond},
	})

	require.NoError(t, exec.Run(context.Background()))
	assert.Len(t, w.Records("deposits"), 15)

	// No dead letters, but the failures still count.
	_, total, err := st.ListDLQEntries(context.Background(), p.ID, model.DLQFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	sum, err := agg.Summary(context.Background(), p.ID,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.RecordsFailed)
	assert.Equal(t, int64(15), sum.RecordsOut)
}

// blockingSource delivers one partial batch, then blocks until the run
// context is cancelled.
type blockingSource struct {
	records []model.Record
	cancel  context.CancelFunc
	calls   int
}

func (s *blockingSource) Open(context.Context, core.OpenParams) error { return nil }

func (s *blockingSource) Fetch(ctx context.Context, _ int) ([]model.Record, bool, error) {
	s.calls++
	if s.calls == 1 {
		return s.records, false, nil
	}
	s.cancel()
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func (s *blockingSource) Checkpoint(context.Context) (string, error) { return "", nil }
func (s *blockingSource) Close(context.Context) error                { return nil }

func TestExecutorCommitsPartialBatchOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &blockingSource{cancel: cancel}
	for i := 0; i < 30; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := target.NewMemoryWriter()
	exec, _, _ := executorFixture(t, src, w,
		model.ProcessingPolicy{BatchSize: 100, BatchTimeout: time.Minute})

	// The stop arrives with 30 of 100 records in flight; the partial
	// batch still commits before the run returns.
	require.NoError(t, exec.Run(ctx))
	assert.Equal(t, []int{30}, w.BatchSizes())
	assert.Len(t, w.Records("deposits"), 30)
}

func TestExecutorDeadLettersPartialBatchOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &blockingSource{cancel: cancel}
	for i := 0; i < 30; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := &failingWriter{err: errors.New(errors.ErrorTypeData, "schema mismatch")}
	exec, st, p := executorFixture(t, src, w,
		model.ProcessingPolicy{BatchSize: 100, BatchTimeout: time.Minute})

	// The final flush fails outright, so the whole in-flight batch is
	// dead-lettered rather than dropped.
	require.NoError(t, exec.Run(ctx))
	assert.Equal(t, 1, w.calls)

	entries, total, err := st.ListDLQEntries(context.Background(), p.ID, model.DLQFilter{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 30, total)
	for _, e := range entries {
		assert.Equal(t, model.StageWrite, e.Stage)
	}
}

func TestExecutorFlushesOnCancel(t *testing.T) {
	src := &scriptedSource{}
	for i := 0; i < 5; i++ {
		src.records = append(src.records, depositRecord(i))
	}
	w := target.NewMemoryWriter()
	exec, _, _ := executorFixture(t, src, w, model.ProcessingPolicy{BatchSize: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The run sees the cancelled context after ingesting nothing; a
	// pre-cancelled context returns before any fetch.
	require.NoError(t, exec.Run(ctx))
	assert.Empty(t, w.BatchSizes())
}

func TestResolvePolicyDefaults(t *testing.T) {
	p := ResolvePolicy(model.ProcessingPolicy{}, 1000, 5*time.Second, 3)
	assert.Equal(t, 1000, p.BatchSize)
	assert.Equal(t, 5*time.Second, p.BatchTimeout)
	assert.Equal(t, 3, p.MaxRetries)

	p = ResolvePolicy(model.ProcessingPolicy{BatchSize: 10, MaxRetries: 1}, 1000, 5*time.Second, 3)
	assert.Equal(t, 10, p.BatchSize)
	assert.Equal(t, 1, p.MaxRetries)
}
