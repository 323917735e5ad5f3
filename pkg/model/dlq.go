package model

import "time"

// ProcessingStage identifies where in the pass a record failed.
type ProcessingStage string

const (
	StageFetch    ProcessingStage = "fetch"
	StageMap      ProcessingStage = "map"
	StageValidate ProcessingStage = "validate"
	StageWrite    ProcessingStage = "write"
)

// Resolution is the terminal disposition of a dead letter entry.
type Resolution string

const (
	// ResolutionPending means the entry awaits operator action.
	ResolutionPending Resolution = "pending"
	// ResolutionResolved means a retry replayed the record successfully.
	ResolutionResolved Resolution = "resolved"
	// ResolutionDiscarded means an operator dropped the record.
	ResolutionDiscarded Resolution = "discarded"
)

// DLQEntry is a record that failed processing, captured with enough
// context to replay it.
type DLQEntry struct {
	ID           string          `json:"id"`
	PipelineID   string          `json:"pipeline_id"`
	MessageKey   string          `json:"message_key,omitempty"`
	MessageValue []byte          `json:"message_value"`
	ErrorType    string          `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	Stage        ProcessingStage `json:"processing_stage"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Resolution   Resolution      `json:"resolution"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Retryable reports whether the entry may be replayed: it must still be
// pending and under its retry budget.
func (e *DLQEntry) Retryable() bool {
	return e.Resolution == ResolutionPending && e.RetryCount < e.MaxRetries
}

// DLQFilter narrows dead letter listings.
type DLQFilter struct {
	Stage      ProcessingStage
	Resolution Resolution
	Limit      int
	Offset     int
}
