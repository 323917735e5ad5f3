package model

// Status is the lifecycle state of a pipeline.
type Status string

const (
	// StatusDraft means the pipeline exists but has incomplete config.
	StatusDraft Status = "draft"
	// StatusConfigured means config validated, never started or fully reset.
	StatusConfigured Status = "configured"
	// StatusStarting means the executor is opening the source connection.
	StatusStarting Status = "starting"
	// StatusRunning means records are flowing.
	StatusRunning Status = "running"
	// StatusDegraded means running with an elevated error rate.
	StatusDegraded Status = "degraded"
	// StatusFailed means the executor gave up; operator action required.
	StatusFailed Status = "failed"
	// StatusPaused means intake suspended by an operator, resumable.
	StatusPaused Status = "paused"
	// StatusStopped means cleanly shut down.
	StatusStopped Status = "stopped"
)

// transitions is the full lifecycle graph. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusConfigured},
	StatusConfigured: {StatusStarting, StatusDraft},
	StatusStarting:   {StatusRunning, StatusFailed, StatusStopped},
	StatusRunning:    {StatusDegraded, StatusFailed, StatusPaused, StatusStopped},
	StatusDegraded:   {StatusRunning, StatusFailed, StatusPaused, StatusStopped},
	StatusFailed:     {StatusStarting, StatusConfigured, StatusStopped},
	StatusPaused:     {StatusStarting, StatusStopped},
	StatusStopped:    {StatusStarting, StatusConfigured},
}

// CanTransition reports whether moving from one status to another is a
// legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the status means an executor owns the pipeline.
func (s Status) IsActive() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusDegraded:
		return true
	}
	return false
}

// AllowsConfigWrite reports whether the pipeline's configuration may be
// mutated in this status. Operational fields (enabled, tags, owner,
// priority, description) are always writable; this guards the rest.
func (s Status) AllowsConfigWrite() bool {
	return s != StatusStarting && s != StatusRunning
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusConfigured, StatusStarting, StatusRunning,
		StatusDegraded, StatusFailed, StatusPaused, StatusStopped:
		return true
	}
	return false
}
