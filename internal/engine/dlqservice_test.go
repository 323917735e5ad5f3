package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/target"
)

func dlqFixture(t *testing.T) (*DLQService, *store.Store, *target.MemoryWriter, *model.Pipeline) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	p := &model.Pipeline{
		Name:         "Deposits",
		Slug:         "dlq-deposits",
		ProviderKind: "kafka",
		Status:       model.StatusConfigured,
		TargetTable:  "deposits",
	}
	require.NoError(t, st.CreatePipeline(context.Background(), p))

	w := target.NewMemoryWriter()
	return NewDLQService(st, w), st, w, p
}

func insertEntry(t *testing.T, st *store.Store, pipelineID, payload string, maxRetries int) *model.DLQEntry {
	t.Helper()
	e := &model.DLQEntry{
		PipelineID:   pipelineID,
		MessageValue: []byte(payload),
		ErrorType:    "validation",
		ErrorMessage: "missing required fields",
		Stage:        model.StageValidate,
		MaxRetries:   maxRetries,
	}
	require.NoError(t, st.InsertDLQEntry(context.Background(), e))
	return e
}

func TestRetryResolvesValidEntry(t *testing.T) {
	svc, st, w, p := dlqFixture(t)
	e := insertEntry(t, st, p.ID,
		`{"deposit_id":"d-1","account_id":"a-1","amount":5,"deposit_date":"2026-08-27"}`, 3)

	require.NoError(t, svc.Retry(context.Background(), p.ID, e.ID))
	assert.Len(t, w.Records("deposits"), 1)

	got, err := st.GetDLQEntry(context.Background(), p.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionResolved, got.Resolution)
}

func TestRetryFailureIncrementsCount(t *testing.T) {
	svc, st, _, p := dlqFixture(t)
	// Still missing its required fields, so the replay fails again.
	e := insertEntry(t, st, p.ID, `{"deposit_id":"d-1"}`, 2)

	err := svc.Retry(context.Background(), p.ID, e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	got, err := st.GetDLQEntry(context.Background(), p.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, model.ResolutionPending, got.Resolution)

	// Second failure exhausts the budget; the next retry conflicts.
	require.Error(t, svc.Retry(context.Background(), p.ID, e.ID))
	err = svc.Retry(context.Background(), p.ID, e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestRetrySettledEntryConflicts(t *testing.T) {
	svc, st, _, p := dlqFixture(t)
	e := insertEntry(t, st, p.ID,
		`{"deposit_id":"d-1","account_id":"a-1","amount":5,"deposit_date":"2026-08-27"}`, 3)
	require.NoError(t, st.DiscardDLQEntry(context.Background(), e.ID))

	err := svc.Retry(context.Background(), p.ID, e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestRetryCorruptPayload(t *testing.T) {
	svc, st, _, p := dlqFixture(t)
	e := insertEntry(t, st, p.ID, `not json`, 3)

	err := svc.Retry(context.Background(), p.ID, e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestRetryAll(t *testing.T) {
	svc, st, w, p := dlqFixture(t)
	insertEntry(t, st, p.ID,
		`{"deposit_id":"d-1","account_id":"a-1","amount":5,"deposit_date":"2026-08-27"}`, 3)
	insertEntry(t, st, p.ID,
		`{"deposit_id":"d-2","account_id":"a-1","amount":6,"deposit_date":"2026-08-27"}`, 3)
	insertEntry(t, st, p.ID, `{"deposit_id":"d-3"}`, 3)

	resolved, failed, err := svc.RetryAll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
	assert.Equal(t, 1, failed)
	assert.Len(t, w.Records("deposits"), 2)
}

func TestDiscardScopedToPipeline(t *testing.T) {
	svc, st, _, p := dlqFixture(t)
	e := insertEntry(t, st, p.ID, `{}`, 3)

	err := svc.Discard(context.Background(), "other-pipeline", e.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	require.NoError(t, svc.Discard(context.Background(), p.ID, e.ID))
	got, err := st.GetDLQEntry(context.Background(), p.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionDiscarded, got.Resolution)
}
