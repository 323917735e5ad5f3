// Package engine runs ingestion pipelines: it drives source adapters,
// applies deduplication, field mapping, and validation, lands batches in
// the target writer, and routes failures to the dead letter queue.
package engine

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/internal/metrics"
	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/target"
)

// flushTimeout bounds the final flush after the run context is cancelled,
// so a stop request still commits the in-flight batch.
const flushTimeout = 30 * time.Second

// Executor runs one pass (batch) or one continuous consume loop
// (streaming, api-poll) for a single pipeline.
type Executor struct {
	pipeline *model.Pipeline
	source   core.Source
	writer   target.Writer
	store    *store.Store
	agg      *metrics.Aggregator
	deduper  *Deduper
	mapper   *RecordMapper
	retry    RetryPolicy
	policy   model.ProcessingPolicy
	logger   *zap.Logger

	batchSeq int64
}

// ExecutorParams collects the executor's collaborators. Policy must
// already have engine defaults applied (see ResolvePolicy).
type ExecutorParams struct {
	Pipeline *model.Pipeline
	Source   core.Source
	Writer   target.Writer
	Store    *store.Store
	Agg      *metrics.Aggregator
	Policy   model.ProcessingPolicy
	Retry    RetryPolicy
	DedupWin time.Duration
}

// NewExecutor builds an executor for one pipeline run.
func NewExecutor(p ExecutorParams) *Executor {
	var deduper *Deduper
	if p.Policy.DedupEnabled {
		deduper = NewDeduper(p.DedupWin)
	}
	return &Executor{
		pipeline: p.Pipeline,
		source:   p.Source,
		writer:   p.Writer,
		store:    p.Store,
		agg:      p.Agg,
		deduper:  deduper,
		mapper: NewRecordMapper(p.Pipeline.FieldMappings,
			p.Pipeline.TargetTable, p.Policy.ValidationMode),
		retry:  p.Retry,
		policy: p.Policy,
		logger: logger.Get().With(
			zap.String("pipeline_id", p.Pipeline.ID),
			zap.String("pipeline", p.Pipeline.Slug),
		),
	}
}

// ResolvePolicy overlays engine defaults onto a pipeline's processing
// policy. Zero values inherit the defaults.
func ResolvePolicy(p model.ProcessingPolicy, defBatchSize int, defTimeout time.Duration, defRetries int) model.ProcessingPolicy {
	if p.BatchSize <= 0 {
		p.BatchSize = defBatchSize
	}
	if p.BatchTimeout <= 0 {
		p.BatchTimeout = defTimeout
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defRetries
	}
	return p
}

// batchState accumulates one in-flight batch and its accounting.
type batchState struct {
	records []model.Record
	in      int64
	deduped int64
	failed  int64
	// deadline is set when the first record of the batch arrives.
	deadline time.Time
}

func (b *batchState) empty() bool { return b.in == 0 }

// Run drives the pipeline until the source reports done (batch modes) or
// the context is cancelled (streaming, stop request). Cancellation is
// cooperative: the in-flight batch is flushed before returning.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("run started",
		zap.String("provider", e.pipeline.ProviderKind),
		zap.Int("batch_size", e.policy.BatchSize),
		zap.Duration("batch_timeout", e.policy.BatchTimeout))

	batch := &batchState{}
	for {
		select {
		case <-ctx.Done():
			return e.finish(batch)
		default:
		}

		records, done, err := e.fetch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(batch)
			}
			if errors.IsType(err, errors.ErrorTypeTimeout) && !batch.empty() && !batch.deadline.After(time.Now()) {
				// Batch timeout elapsed while waiting for records.
				if err := e.flush(ctx, batch); err != nil {
					return err
				}
				continue
			}
			return errors.Wrap(err, errors.TypeOf(err), "fetch failed")
		}

		e.ingest(ctx, records, batch)

		if done {
			if err := e.finish(batch); err != nil {
				return err
			}
			e.logger.Info("run complete")
			return nil
		}
		if len(batch.records) >= e.policy.BatchSize ||
			(!batch.empty() && !batch.deadline.After(time.Now())) {
			if err := e.flush(ctx, batch); err != nil {
				return err
			}
		}
	}
}

// fetch pulls up to the batch's remaining capacity. Once a batch has
// records, the fetch is bounded by the batch deadline so a slow source
// cannot hold a partial batch open past the timeout.
func (e *Executor) fetch(ctx context.Context, batch *batchState) ([]model.Record, bool, error) {
	max := e.policy.BatchSize - len(batch.records)
	if max <= 0 {
		max = 1
	}
	fetchCtx := ctx
	if !batch.empty() {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithDeadline(ctx, batch.deadline)
		defer cancel()
	}
	records, done, err := e.source.Fetch(fetchCtx, max)
	if err != nil && fetchCtx.Err() != nil && ctx.Err() == nil {
		// Deadline hit, not a source failure.
		return records, done, errors.Wrap(err, errors.ErrorTypeTimeout, "batch deadline reached")
	}
	return records, done, err
}

// ingest runs fetched records through dedup, mapping, and validation,
// appending survivors to the batch and dead-lettering failures.
func (e *Executor) ingest(ctx context.Context, records []model.Record, batch *batchState) {
	for _, rec := range records {
		if batch.empty() {
			batch.deadline = time.Now().Add(e.policy.BatchTimeout)
		}
		batch.in++

		// Keep the original payload around so dead letter replay always
		// starts from the unmapped record.
		if rec.Raw == nil {
			if b, err := json.Marshal(rec.Data); err == nil {
				rec.Raw = b
			}
		}

		if e.deduper != nil && e.deduper.Seen(e.dedupKey(rec)) {
			batch.deduped++
			continue
		}

		mapped := e.mapper.Map(rec)
		if e.policy.ValidatesSchema() {
			if err := e.mapper.Validate(mapped); err != nil {
				batch.failed++
				e.deadLetter(ctx, rec, model.StageValidate, err)
				continue
			}
		}
		batch.records = append(batch.records, mapped)
	}
}

// dedupKey picks the deduplication key: the configured field if set,
// otherwise the provider's natural record key.
func (e *Executor) dedupKey(rec model.Record) string {
	if f := e.policy.DedupField; f != "" {
		if v, ok := rec.Data[f]; ok && v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		}
		return ""
	}
	return rec.Key
}

// flush writes the batch, retrying retryable failures. A batch that
// exhausts its retries is dead-lettered record by record; the run
// continues. Accounting holds per batch:
// out + failed == in - deduped.
func (e *Executor) flush(ctx context.Context, batch *batchState) error {
	if batch.empty() {
		return nil
	}
	e.batchSeq++
	start := time.Now()

	var out int64
	if len(batch.records) > 0 {
		err := e.retry.Do(ctx, func() error {
			return e.writer.Write(ctx, e.pipeline.TargetTable, batch.records)
		})
		if err != nil {
			if ctx.Err() != nil && errors.IsType(err, errors.ErrorTypeTimeout) {
				return err
			}
			e.logger.Warn("batch write failed, dead-lettering",
				zap.Int64("seq", e.batchSeq),
				zap.Int("records", len(batch.records)),
				zap.Error(err))
			for _, rec := range batch.records {
				batch.failed++
				e.deadLetter(ctx, rec, model.StageWrite, err)
			}
		} else {
			out = int64(len(batch.records))
		}
	}

	if e.agg != nil {
		e.agg.RecordBatch(e.pipeline.ID, metrics.BatchResult{
			RecordsIn:      batch.in,
			RecordsOut:     out,
			RecordsFailed:  batch.failed,
			RecordsDeduped: batch.deduped,
			Latency:        time.Since(start),
		})
	}
	e.logger.Debug("batch flushed",
		zap.Int64("seq", e.batchSeq),
		zap.Int64("in", batch.in),
		zap.Int64("out", out),
		zap.Int64("failed", batch.failed),
		zap.Int64("deduped", batch.deduped))

	if out > 0 {
		e.checkpoint(ctx)
	}
	*batch = batchState{}
	return nil
}

// checkpoint advances the source position and persists the watermark
// after a committed batch. Checkpoint failures are logged, not fatal:
// the worst case is re-delivery, which dedup absorbs.
func (e *Executor) checkpoint(ctx context.Context) {
	wm, err := e.source.Checkpoint(ctx)
	if err != nil {
		e.logger.Warn("checkpoint failed", zap.Error(err))
		return
	}
	if wm == "" || wm == e.pipeline.Watermark {
		return
	}
	if err := e.store.SetWatermark(ctx, e.pipeline.ID, wm); err != nil {
		e.logger.Warn("watermark persist failed", zap.Error(err))
		return
	}
	e.pipeline.Watermark = wm
}

// finish flushes the in-flight batch on shutdown using a detached
// context, so a cancelled run still commits what it has.
func (e *Executor) finish(batch *batchState) error {
	if batch.empty() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return e.flush(ctx, batch)
}

// deadLetter captures a failed record for operator review and replay.
// Failures are counted at the call sites, so a pipeline that opts out of
// the dead letter queue still reports honest failure numbers.
func (e *Executor) deadLetter(ctx context.Context, rec model.Record, stage model.ProcessingStage, cause error) {
	if !e.policy.DLQOn() {
		return
	}
	payload := rec.Raw
	if payload == nil {
		b, err := json.Marshal(rec.Data)
		if err != nil {
			b = []byte("{}")
		}
		payload = b
	}
	entry := &model.DLQEntry{
		PipelineID:   e.pipeline.ID,
		MessageKey:   rec.Key,
		MessageValue: payload,
		ErrorType:    string(errors.TypeOf(cause)),
		ErrorMessage: cause.Error(),
		Stage:        stage,
		MaxRetries:   e.policy.MaxRetries,
	}
	// Use a detached context so shutdown does not drop the entry.
	dlqCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		dlqCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := e.store.InsertDLQEntry(dlqCtx, entry); err != nil {
		e.logger.Error("dead letter insert failed",
			zap.String("stage", string(stage)),
			zap.Error(err))
		return
	}
	if e.agg != nil {
		e.agg.ObserveDLQ(e.pipeline.ID, stage)
	}
}
