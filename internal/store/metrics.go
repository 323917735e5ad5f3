package store

import (
	"context"
	"time"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// UpsertMetricBucket accumulates counters into the bucket at
// (pipeline_id, bucket_start), creating it on first write.
func (s *Store) UpsertMetricBucket(ctx context.Context, b model.MetricBucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_buckets
			(pipeline_id, bucket_start, records_in, records_out, records_failed,
			 records_deduped, batch_count, total_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pipeline_id, bucket_start) DO UPDATE SET
			records_in       = records_in + excluded.records_in,
			records_out      = records_out + excluded.records_out,
			records_failed   = records_failed + excluded.records_failed,
			records_deduped  = records_deduped + excluded.records_deduped,
			batch_count      = batch_count + excluded.batch_count,
			total_latency_ms = total_latency_ms + excluded.total_latency_ms`,
		b.PipelineID, b.BucketStart.UTC(), b.RecordsIn, b.RecordsOut, b.RecordsFailed,
		b.RecordsDeduped, b.BatchCount, b.TotalLatencyMS)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to upsert metric bucket")
	}
	return nil
}

// ListMetricBuckets returns buckets for a pipeline in [from, to), oldest
// first.
func (s *Store) ListMetricBuckets(ctx context.Context, pipelineID string, from, to time.Time) ([]model.MetricBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pipeline_id, bucket_start, records_in, records_out, records_failed,
		       records_deduped, batch_count, total_latency_ms
		FROM metric_buckets
		WHERE pipeline_id = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start`,
		pipelineID, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list metric buckets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MetricBucket
	for rows.Next() {
		var b model.MetricBucket
		if err := rows.Scan(&b.PipelineID, &b.BucketStart, &b.RecordsIn, &b.RecordsOut,
			&b.RecordsFailed, &b.RecordsDeduped, &b.BatchCount, &b.TotalLatencyMS); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan metric bucket")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PruneMetricBuckets deletes buckets older than cutoff across all
// pipelines and returns the number removed.
func (s *Store) PruneMetricBuckets(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metric_buckets WHERE bucket_start < ?`, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to prune metric buckets")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
