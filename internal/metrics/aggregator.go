// Package metrics aggregates per-pipeline throughput counters into
// fixed-width time buckets, persists them, and evaluates pipeline health
// from the rolling window.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// Aggregator accumulates batch results in an in-memory current bucket per
// pipeline and flushes completed buckets to the store.
type Aggregator struct {
	store       *store.Store
	granularity time.Duration
	retention   time.Duration
	logger      *zap.Logger
	prom        *Collectors

	mu      sync.Mutex
	current map[string]*model.MetricBucket
	// window accumulates counters between health evaluations,
	// independent of bucket boundaries.
	window map[string]*model.MetricBucket
}

// NewAggregator creates an aggregator. prom may be nil to skip Prometheus
// export.
func NewAggregator(st *store.Store, granularity, retention time.Duration, prom *Collectors) *Aggregator {
	if granularity <= 0 {
		granularity = time.Minute
	}
	return &Aggregator{
		store:       st,
		granularity: granularity,
		retention:   retention,
		logger:      logger.Get().With(zap.String("component", "metrics_aggregator")),
		prom:        prom,
		current:     make(map[string]*model.MetricBucket),
		window:      make(map[string]*model.MetricBucket),
	}
}

// BatchResult is the outcome of one committed (or abandoned) batch.
type BatchResult struct {
	RecordsIn      int64
	RecordsOut     int64
	RecordsFailed  int64
	RecordsDeduped int64
	Latency        time.Duration
}

// RecordBatch folds a batch result into the pipeline's current bucket.
func (a *Aggregator) RecordBatch(pipelineID string, r BatchResult) {
	now := time.Now().UTC()
	bucketStart := now.Truncate(a.granularity)

	a.mu.Lock()
	cur, ok := a.current[pipelineID]
	if !ok || !cur.BucketStart.Equal(bucketStart) {
		if ok {
			// Bucket rolled over; persist the finished one outside the lock.
			finished := *cur
			defer a.persist(finished)
		}
		cur = &model.MetricBucket{PipelineID: pipelineID, BucketStart: bucketStart}
		a.current[pipelineID] = cur
	}
	cur.RecordsIn += r.RecordsIn
	cur.RecordsOut += r.RecordsOut
	cur.RecordsFailed += r.RecordsFailed
	cur.RecordsDeduped += r.RecordsDeduped
	cur.BatchCount++
	cur.TotalLatencyMS += r.Latency.Milliseconds()

	win, ok := a.window[pipelineID]
	if !ok {
		win = &model.MetricBucket{PipelineID: pipelineID}
		a.window[pipelineID] = win
	}
	win.RecordsIn += r.RecordsIn
	win.RecordsFailed += r.RecordsFailed
	win.RecordsDeduped += r.RecordsDeduped
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.ObserveBatch(pipelineID, r)
	}
}

// ObserveDLQ counts a dead-lettered record in the Prometheus export.
func (a *Aggregator) ObserveDLQ(pipelineID string, stage model.ProcessingStage) {
	if a.prom != nil {
		a.prom.ObserveDLQ(pipelineID, stage)
	}
}

// TakeHealthWindow drains the counters accumulated since the last call
// and returns the window's error rate and whether the pipeline saw
// traffic. The health evaluator calls this once per evaluation tick.
func (a *Aggregator) TakeHealthWindow(pipelineID string) (errorRate float64, hadTraffic bool) {
	a.mu.Lock()
	win, ok := a.window[pipelineID]
	if ok {
		delete(a.window, pipelineID)
	}
	a.mu.Unlock()

	if !ok || win.RecordsIn == 0 {
		return 0, false
	}
	processed := win.RecordsIn - win.RecordsDeduped
	if processed <= 0 {
		return 0, true
	}
	return float64(win.RecordsFailed) / float64(processed), true
}

func (a *Aggregator) persist(b model.MetricBucket) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.UpsertMetricBucket(ctx, b); err != nil {
		a.logger.Error("failed to persist metric bucket",
			zap.String("pipeline_id", b.PipelineID), zap.Error(err))
	}
}

// Flush persists every in-memory bucket. Called on shutdown and before
// range reads so summaries include the current window.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	buckets := make([]model.MetricBucket, 0, len(a.current))
	for _, b := range a.current {
		buckets = append(buckets, *b)
	}
	a.current = make(map[string]*model.MetricBucket)
	a.mu.Unlock()

	for _, b := range buckets {
		if err := a.store.UpsertMetricBucket(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Summary aggregates the pipeline's buckets over [from, to).
func (a *Aggregator) Summary(ctx context.Context, pipelineID string, from, to time.Time) (model.MetricsSummary, error) {
	if err := a.Flush(ctx); err != nil {
		return model.MetricsSummary{}, err
	}
	buckets, err := a.store.ListMetricBuckets(ctx, pipelineID, from, to)
	if err != nil {
		return model.MetricsSummary{}, err
	}
	return model.Summarize(pipelineID, from, to, buckets), nil
}

// Run drives periodic flushing and retention pruning until ctx ends.
func (a *Aggregator) Run(ctx context.Context) {
	flushTicker := time.NewTicker(a.granularity)
	defer flushTicker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final metrics flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-flushTicker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Error("metrics flush failed", zap.Error(err))
			}
		case <-pruneTicker.C:
			if a.retention <= 0 {
				continue
			}
			n, err := a.store.PruneMetricBuckets(ctx, time.Now().Add(-a.retention))
			if err != nil {
				a.logger.Error("metrics prune failed", zap.Error(err))
			} else if n > 0 {
				a.logger.Info("pruned metric buckets", zap.Int64("removed", n))
			}
		}
	}
}
