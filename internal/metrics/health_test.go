package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthyUnderThreshold(t *testing.T) {
	h := NewHealthEvaluator(0.05, 3)

	assert.Equal(t, AssessHealthy, h.Observe("p1", 0.0, true))
	assert.Equal(t, AssessHealthy, h.Observe("p1", 0.04, true))
	assert.Equal(t, AssessHealthy, h.Observe("p1", 0.05, true))
}

func TestDegradesThenFails(t *testing.T) {
	h := NewHealthEvaluator(0.05, 3)

	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	assert.Equal(t, AssessFailed, h.Observe("p1", 0.2, true))
}

func TestCleanWindowRecovers(t *testing.T) {
	h := NewHealthEvaluator(0.05, 3)

	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	assert.Equal(t, AssessHealthy, h.Observe("p1", 0.01, true))
	// The bad-window streak restarts from zero.
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
}

func TestNoTrafficPreservesVerdict(t *testing.T) {
	h := NewHealthEvaluator(0.05, 3)

	assert.Equal(t, AssessHealthy, h.Observe("p1", 0, false))

	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	// Silence is not recovery, and it does not escalate either.
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0, false))
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0, false))
	// Traffic resumes: the streak continues where it left off.
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.2, true))
	assert.Equal(t, AssessFailed, h.Observe("p1", 0.2, true))
}

func TestPipelinesTrackedIndependently(t *testing.T) {
	h := NewHealthEvaluator(0.05, 2)

	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.5, true))
	assert.Equal(t, AssessHealthy, h.Observe("p2", 0.0, true))
	assert.Equal(t, AssessFailed, h.Observe("p1", 0.5, true))
}

func TestPerPipelineThreshold(t *testing.T) {
	h := NewHealthEvaluator(0.05, 3)

	// A pipeline with its own, looser threshold tolerates a rate the
	// default would flag.
	assert.Equal(t, AssessHealthy, h.ObserveAt("p1", 0.3, true, 0.5))
	assert.Equal(t, AssessDegraded, h.ObserveAt("p1", 0.6, true, 0.5))

	// A tighter per-pipeline threshold flags a rate the default accepts.
	assert.Equal(t, AssessDegraded, h.ObserveAt("p2", 0.02, true, 0.01))

	// threshold <= 0 falls back to the evaluator default.
	assert.Equal(t, AssessDegraded, h.ObserveAt("p3", 0.1, true, 0))
	assert.Equal(t, AssessHealthy, h.ObserveAt("p4", 0.04, true, 0))
}

func TestResetClearsStreak(t *testing.T) {
	h := NewHealthEvaluator(0.05, 2)

	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.5, true))
	h.Reset("p1")
	// The streak restarts, and a quiet window after reset reads healthy.
	assert.Equal(t, AssessHealthy, h.Observe("p1", 0, false))
	assert.Equal(t, AssessDegraded, h.Observe("p1", 0.5, true))
}
