// Package model defines the persistent data model of the ingestion engine:
// pipelines and their lifecycle, dead letter entries, metric buckets,
// and the target table catalog.
package model

import (
	"regexp"
	"time"
)

// ExecutionMode describes how a pipeline's provider delivers data.
type ExecutionMode string

const (
	// ModeStreaming consumes continuously from a broker.
	ModeStreaming ExecutionMode = "streaming"
	// ModeBatchCron runs to completion on a cron schedule.
	ModeBatchCron ExecutionMode = "batch-cron"
	// ModeAPIPoll polls an HTTP API continuously under rate limits.
	ModeAPIPoll ExecutionMode = "api-poll"
	// ModeFileEvent runs one pass per submitted file.
	ModeFileEvent ExecutionMode = "file-event"
)

// Priority orders pipelines for operator attention.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityStandard, PriorityLow:
		return true
	}
	return false
}

// ProcessingPolicy controls batching, retry, dedup, and failure handling
// for a pipeline. Zero values fall back to engine defaults.
type ProcessingPolicy struct {
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout_ms" yaml:"batch_timeout_ms"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`

	// ErrorThresholdPct is this pipeline's degradation threshold as a
	// percentage (0-100). Zero inherits the engine-wide threshold.
	ErrorThresholdPct float64 `json:"error_threshold_pct,omitempty" yaml:"error_threshold_pct,omitempty"`

	DedupEnabled   bool   `json:"dedup_enabled" yaml:"dedup_enabled"`
	DedupField     string `json:"dedup_field,omitempty" yaml:"dedup_field,omitempty"`
	ValidationMode string `json:"validation_mode,omitempty" yaml:"validation_mode,omitempty"`

	// DLQEnabled and SchemaValidationEnabled default to true when absent.
	DLQEnabled              *bool `json:"dlq_enabled,omitempty" yaml:"dlq_enabled,omitempty"`
	SchemaValidationEnabled *bool `json:"schema_validation_enabled,omitempty" yaml:"schema_validation_enabled,omitempty"`
}

// DLQOn reports whether failed records are captured in the dead letter
// queue. Unset means on.
func (p ProcessingPolicy) DLQOn() bool {
	return p.DLQEnabled == nil || *p.DLQEnabled
}

// ValidatesSchema reports whether mapped records are checked against the
// target table's required fields. Unset means on.
func (p ProcessingPolicy) ValidatesSchema() bool {
	return p.SchemaValidationEnabled == nil || *p.SchemaValidationEnabled
}

// Pipeline is the unit of ingestion configuration and lifecycle.
type Pipeline struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Slug         string `json:"slug" yaml:"slug"`
	ProviderKind string `json:"provider" yaml:"provider"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`

	Status   Status   `json:"status" yaml:"status"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Priority Priority `json:"priority" yaml:"priority"`
	Owner    string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	TargetTable string `json:"target_table" yaml:"target_table"`

	// ProviderConfig holds non-secret provider settings only. Secrets are
	// referenced through CredentialReference and live in the vault.
	ProviderConfig      map[string]interface{} `json:"provider_config" yaml:"provider_config"`
	CredentialReference string                 `json:"credential_reference,omitempty" yaml:"credential_reference,omitempty"`

	// FieldMappings maps source field names to target table columns.
	FieldMappings map[string]string `json:"field_mappings,omitempty" yaml:"field_mappings,omitempty"`

	Processing ProcessingPolicy `json:"processing" yaml:"processing"`

	// Batch scheduling. Only meaningful for ModeBatchCron.
	ScheduleExpression string `json:"schedule_expression,omitempty" yaml:"schedule_expression,omitempty"`
	ScheduleTimezone   string `json:"schedule_timezone,omitempty" yaml:"schedule_timezone,omitempty"`

	// Incremental extraction for batch providers.
	IncrementalEnabled bool   `json:"incremental_enabled,omitempty" yaml:"incremental_enabled,omitempty"`
	WatermarkColumn    string `json:"watermark_column,omitempty" yaml:"watermark_column,omitempty"`
	Watermark          string `json:"watermark,omitempty" yaml:"watermark,omitempty"`

	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasCredentials reports whether the pipeline references vault secrets.
func (p *Pipeline) HasCredentials() bool {
	return p.CredentialReference != ""
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a well-formed pipeline slug:
// lowercase alphanumerics separated by single hyphens.
func ValidSlug(s string) bool {
	return len(s) >= 3 && len(s) <= 64 && slugPattern.MatchString(s)
}
