package model

import "time"

// MetricBucket is one fixed-width time bucket of per-pipeline counters.
type MetricBucket struct {
	PipelineID     string    `json:"pipeline_id"`
	BucketStart    time.Time `json:"bucket_start"`
	RecordsIn      int64     `json:"records_in"`
	RecordsOut     int64     `json:"records_out"`
	RecordsFailed  int64     `json:"records_failed"`
	RecordsDeduped int64     `json:"records_deduped"`
	BatchCount     int64     `json:"batch_count"`
	TotalLatencyMS int64     `json:"total_latency_ms"`
}

// Add accumulates another bucket's counters into b.
func (b *MetricBucket) Add(o MetricBucket) {
	b.RecordsIn += o.RecordsIn
	b.RecordsOut += o.RecordsOut
	b.RecordsFailed += o.RecordsFailed
	b.RecordsDeduped += o.RecordsDeduped
	b.BatchCount += o.BatchCount
	b.TotalLatencyMS += o.TotalLatencyMS
}

// MetricsSummary aggregates buckets over a time range for console display.
type MetricsSummary struct {
	PipelineID     string    `json:"pipeline_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	RecordsIn      int64     `json:"records_in"`
	RecordsOut     int64     `json:"records_out"`
	RecordsFailed  int64     `json:"records_failed"`
	RecordsDeduped int64     `json:"records_deduped"`
	BatchCount     int64     `json:"batch_count"`
	AvgLatencyMS   float64   `json:"avg_latency_ms"`
	ErrorRate      float64   `json:"error_rate"`
}

// Summarize folds buckets into a summary. ErrorRate is failures over
// processed (in minus deduped); zero traffic yields a zero rate.
func Summarize(pipelineID string, from, to time.Time, buckets []MetricBucket) MetricsSummary {
	s := MetricsSummary{PipelineID: pipelineID, From: from, To: to}
	var total MetricBucket
	for _, b := range buckets {
		total.Add(b)
	}
	s.RecordsIn = total.RecordsIn
	s.RecordsOut = total.RecordsOut
	s.RecordsFailed = total.RecordsFailed
	s.RecordsDeduped = total.RecordsDeduped
	s.BatchCount = total.BatchCount
	if total.BatchCount > 0 {
		s.AvgLatencyMS = float64(total.TotalLatencyMS) / float64(total.BatchCount)
	}
	processed := total.RecordsIn - total.RecordsDeduped
	if processed > 0 {
		s.ErrorRate = float64(total.RecordsFailed) / float64(processed)
	}
	return s
}

// FleetSummary is the console list header: pipeline counts by status.
type FleetSummary struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
