package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pinotpulse/ingest/pkg/model"
)

// Collectors mirrors the aggregator counters for Prometheus scrapes.
type Collectors struct {
	recordsIn      *prometheus.CounterVec
	recordsOut     *prometheus.CounterVec
	recordsFailed  *prometheus.CounterVec
	recordsDeduped *prometheus.CounterVec
	batchLatency   *prometheus.HistogramVec
	pipelineStatus *prometheus.GaugeVec
	dlqEntries     *prometheus.CounterVec
}

// NewCollectors builds and registers the collector set.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		recordsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "records_in_total",
			Help: "Records fetched from providers.",
		}, []string{"pipeline"}),
		recordsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "records_out_total",
			Help: "Records written to the target.",
		}, []string{"pipeline"}),
		recordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "records_failed_total",
			Help: "Records routed to the dead letter queue.",
		}, []string{"pipeline"}),
		recordsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "records_deduped_total",
			Help: "Records dropped by deduplication.",
		}, []string{"pipeline"}),
		batchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "batch_duration_seconds",
			Help:    "End-to-end batch processing latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"pipeline"}),
		pipelineStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "pipeline_status",
			Help: "Current lifecycle status, one series per status with value 0/1.",
		}, []string{"pipeline", "status"}),
		dlqEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Subsystem: "ingest", Name: "dlq_entries_total",
			Help: "Dead letter entries created, by processing stage.",
		}, []string{"pipeline", "stage"}),
	}
	reg.MustRegister(c.recordsIn, c.recordsOut, c.recordsFailed, c.recordsDeduped,
		c.batchLatency, c.pipelineStatus, c.dlqEntries)
	return c
}

// ObserveBatch records a batch result.
func (c *Collectors) ObserveBatch(pipelineID string, r BatchResult) {
	c.recordsIn.WithLabelValues(pipelineID).Add(float64(r.RecordsIn))
	c.recordsOut.WithLabelValues(pipelineID).Add(float64(r.RecordsOut))
	c.recordsFailed.WithLabelValues(pipelineID).Add(float64(r.RecordsFailed))
	c.recordsDeduped.WithLabelValues(pipelineID).Add(float64(r.RecordsDeduped))
	c.batchLatency.WithLabelValues(pipelineID).Observe(r.Latency.Seconds())
}

// ObserveDLQ records a dead letter capture.
func (c *Collectors) ObserveDLQ(pipelineID string, stage model.ProcessingStage) {
	c.dlqEntries.WithLabelValues(pipelineID, string(stage)).Inc()
}

var allStatuses = []model.Status{
	model.StatusDraft, model.StatusConfigured, model.StatusStarting,
	model.StatusRunning, model.StatusDegraded, model.StatusFailed,
	model.StatusPaused, model.StatusStopped,
}

// SetStatus updates the status gauge family for a pipeline.
func (c *Collectors) SetStatus(pipelineID string, status model.Status) {
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1.0
		}
		c.pipelineStatus.WithLabelValues(pipelineID, string(s)).Set(v)
	}
}
