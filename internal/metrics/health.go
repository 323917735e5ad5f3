package metrics

import "sync"

// Assessment is the health verdict for one evaluation window.
type Assessment int

const (
	// AssessHealthy means the error rate is within threshold.
	AssessHealthy Assessment = iota
	// AssessDegraded means the rate crossed the threshold this window.
	AssessDegraded
	// AssessFailed means the rate stayed over threshold for the
	// configured number of consecutive windows.
	AssessFailed
)

// HealthEvaluator tracks consecutive bad windows per pipeline and decides
// when a pipeline degrades, fails, or recovers.
type HealthEvaluator struct {
	threshold float64
	failAfter int

	mu         sync.Mutex
	badWindows map[string]int
}

// NewHealthEvaluator creates an evaluator. threshold is the error-rate
// ceiling per window; failAfter is how many consecutive bad windows
// escalate degraded to failed.
func NewHealthEvaluator(threshold float64, failAfter int) *HealthEvaluator {
	if failAfter < 1 {
		failAfter = 3
	}
	return &HealthEvaluator{
		threshold:  threshold,
		failAfter:  failAfter,
		badWindows: make(map[string]int),
	}
}

// Observe records one window's error rate against the evaluator's
// default threshold. hadTraffic=false windows do not change the verdict
// either way: silence is not recovery.
func (h *HealthEvaluator) Observe(pipelineID string, errorRate float64, hadTraffic bool) Assessment {
	return h.ObserveAt(pipelineID, errorRate, hadTraffic, 0)
}

// ObserveAt is Observe with a per-pipeline threshold. threshold <= 0
// falls back to the evaluator default.
func (h *HealthEvaluator) ObserveAt(pipelineID string, errorRate float64, hadTraffic bool, threshold float64) Assessment {
	h.mu.Lock()
	defer h.mu.Unlock()

	if threshold <= 0 {
		threshold = h.threshold
	}

	if !hadTraffic {
		if h.badWindows[pipelineID] > 0 {
			return AssessDegraded
		}
		return AssessHealthy
	}

	if errorRate > threshold {
		h.badWindows[pipelineID]++
		if h.badWindows[pipelineID] >= h.failAfter {
			return AssessFailed
		}
		return AssessDegraded
	}

	// One clean window with traffic recovers the pipeline.
	delete(h.badWindows, pipelineID)
	return AssessHealthy
}

// Reset clears tracking for a pipeline, used on stop/start.
func (h *HealthEvaluator) Reset(pipelineID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.badWindows, pipelineID)
}
