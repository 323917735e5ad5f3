package engine

import (
	"context"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/target"
)

// DLQService replays and settles dead letter entries. A replay pushes
// the captured payload back through mapping, validation, and the target
// writer; it does not touch the source.
type DLQService struct {
	store  *store.Store
	writer target.Writer
	logger *zap.Logger
}

// NewDLQService creates the service.
func NewDLQService(st *store.Store, w target.Writer) *DLQService {
	return &DLQService{
		store:  st,
		writer: w,
		logger: logger.Get().With(zap.String("component", "dlq")),
	}
}

// Retry replays one entry. On success the entry is resolved; on failure
// its retry count is incremented and the processing error is returned.
// Entries that are settled or out of retry budget return a conflict.
func (s *DLQService) Retry(ctx context.Context, pipelineID, entryID string) error {
	entry, err := s.store.GetDLQEntry(ctx, pipelineID, entryID)
	if err != nil {
		return err
	}
	if !entry.Retryable() {
		if entry.Resolution != model.ResolutionPending {
			return errors.Newf(errors.ErrorTypeConflict, "entry already %s", entry.Resolution)
		}
		return errors.New(errors.ErrorTypeConflict, "entry retry budget exhausted")
	}

	p, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}

	if replayErr := s.replay(ctx, p, entry); replayErr != nil {
		if err := s.store.IncrementDLQRetry(ctx, entryID); err != nil {
			return err
		}
		s.logger.Info("dead letter replay failed",
			zap.String("pipeline_id", pipelineID),
			zap.String("entry_id", entryID),
			zap.Int("retry_count", entry.RetryCount+1),
			zap.Error(replayErr))
		return replayErr
	}

	if err := s.store.ResolveDLQEntry(ctx, entryID); err != nil {
		return err
	}
	s.logger.Info("dead letter resolved",
		zap.String("pipeline_id", pipelineID),
		zap.String("entry_id", entryID))
	return nil
}

// RetryAll replays every retryable entry of a pipeline and reports how
// many resolved and how many failed again.
func (s *DLQService) RetryAll(ctx context.Context, pipelineID string) (resolved, failed int, err error) {
	entries, err := s.store.ListRetryableDLQEntries(ctx, pipelineID)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return resolved, failed, errors.Wrap(err, errors.ErrorTypeTimeout, "bulk retry cancelled")
		}
		if retryErr := s.Retry(ctx, pipelineID, e.ID); retryErr != nil {
			if errors.IsType(retryErr, errors.ErrorTypeNotFound) || errors.IsType(retryErr, errors.ErrorTypeConflict) {
				continue
			}
			failed++
			continue
		}
		resolved++
	}
	return resolved, failed, nil
}

// Discard marks an entry as dropped by the operator.
func (s *DLQService) Discard(ctx context.Context, pipelineID, entryID string) error {
	if _, err := s.store.GetDLQEntry(ctx, pipelineID, entryID); err != nil {
		return err
	}
	return s.store.DiscardDLQEntry(ctx, entryID)
}

// replay pushes the captured payload through the pipeline's current
// mapping and validation, then writes it as a single-record batch.
func (s *DLQService) replay(ctx context.Context, p *model.Pipeline, entry *model.DLQEntry) error {
	var data map[string]interface{}
	if err := json.Unmarshal(entry.MessageValue, &data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "captured payload is not valid JSON")
	}
	rec := model.Record{Key: entry.MessageKey, Data: data, Raw: entry.MessageValue}

	mapper := NewRecordMapper(p.FieldMappings, p.TargetTable, p.Processing.ValidationMode)
	rec = mapper.Map(rec)
	if err := mapper.Validate(rec); err != nil {
		return err
	}
	return s.writer.Write(ctx, p.TargetTable, []model.Record{rec})
}
