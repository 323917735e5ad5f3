package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

const pipelineColumns = `id, name, slug, provider_kind, description, status, enabled, priority,
	owner, tags, target_table, provider_config, credential_reference, field_mappings,
	processing, schedule_expression, schedule_timezone, incremental_enabled,
	watermark_column, watermark, last_error, created_at, updated_at`

// CreatePipeline inserts a new pipeline. The caller sets Status; ID and
// timestamps are assigned here if absent.
func (s *Store) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Priority == "" {
		p.Priority = model.PriorityStandard
	}

	tags, cfg, mappings, proc, err := marshalPipelineJSON(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, p.ProviderKind, p.Description, string(p.Status), p.Enabled,
		string(p.Priority), p.Owner, tags, p.TargetTable, cfg, p.CredentialReference,
		mappings, proc, p.ScheduleExpression, p.ScheduleTimezone, p.IncrementalEnabled,
		p.WatermarkColumn, p.Watermark, p.LastError, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Newf(errors.ErrorTypeConflict, "pipeline slug %q already exists", p.Slug)
		}
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to insert pipeline")
	}
	return nil
}

// GetPipeline fetches a pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	return scanPipeline(row)
}

// GetPipelineBySlug fetches a pipeline by slug.
func (s *Store) GetPipelineBySlug(ctx context.Context, slug string) (*model.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE slug = ?`, slug)
	return scanPipeline(row)
}

// ListPipelines returns all pipelines ordered by name.
func (s *Store) ListPipelines(ctx context.Context) ([]*model.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list pipelines")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FleetSummary counts pipelines by status.
func (s *Store) FleetSummary(ctx context.Context) (*model.FleetSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM pipelines GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to summarize pipelines")
	}
	defer rows.Close() //nolint:errcheck

	sum := &model.FleetSummary{ByStatus: make(map[model.Status]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan summary row")
		}
		sum.ByStatus[model.Status(status)] = n
		sum.Total += n
	}
	return sum, rows.Err()
}

// UpdatePipelineConfig rewrites the configuration of a pipeline. The
// update is guarded: it succeeds only while the pipeline is not starting
// or running, and never touches id, slug, status, or watermark.
func (s *Store) UpdatePipelineConfig(ctx context.Context, p *model.Pipeline) error {
	tags, cfg, mappings, proc, err := marshalPipelineJSON(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET
			name = ?, provider_kind = ?, description = ?, enabled = ?, priority = ?,
			owner = ?, tags = ?, target_table = ?, provider_config = ?,
			credential_reference = ?, field_mappings = ?, processing = ?,
			schedule_expression = ?, schedule_timezone = ?, incremental_enabled = ?,
			watermark_column = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('starting', 'running')`,
		p.Name, p.ProviderKind, p.Description, p.Enabled, string(p.Priority),
		p.Owner, tags, p.TargetTable, cfg,
		p.CredentialReference, mappings, proc,
		p.ScheduleExpression, p.ScheduleTimezone, p.IncrementalEnabled,
		p.WatermarkColumn, p.UpdatedAt, p.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to update pipeline")
	}
	return s.requireRow(ctx, res, p.ID, "pipeline configuration is locked while starting or running")
}

// UpdateOperational updates the fields that stay writable in every
// status: enabled, priority, owner, tags, description.
func (s *Store) UpdateOperational(ctx context.Context, id string, enabled bool, priority model.Priority, owner, description string, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal tags")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET enabled = ?, priority = ?, owner = ?, description = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		enabled, string(priority), owner, description, string(tagsJSON), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to update pipeline")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "pipeline %s not found", id)
	}
	return nil
}

// TransitionStatus moves a pipeline from one status to another as a
// compare-and-swap: it fails with a conflict if the pipeline is no longer
// in the expected status, and rejects illegal transitions outright.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to model.Status) error {
	if !model.CanTransition(from, to) {
		return errors.Newf(errors.ErrorTypeConflict, "illegal transition %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to transition status")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return s.transitionConflict(ctx, id, from, to)
	}
	return nil
}

func (s *Store) transitionConflict(ctx context.Context, id string, from, to model.Status) error {
	p, err := s.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	return errors.Newf(errors.ErrorTypeConflict,
		"pipeline %s is %s, expected %s for transition to %s", id, p.Status, from, to)
}

// SetWatermark persists the incremental position after a committed batch.
func (s *Store) SetWatermark(ctx context.Context, id, watermark string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET watermark = ?, updated_at = ? WHERE id = ?`,
		watermark, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to set watermark")
	}
	return nil
}

// SetLastError records the most recent executor error for the console.
func (s *Store) SetLastError(ctx context.Context, id, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipelines SET last_error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to set last error")
	}
	return nil
}

// DeletePipeline removes a pipeline. Dead letter entries and metric
// buckets cascade. Active pipelines cannot be deleted.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pipelines WHERE id = ? AND status NOT IN ('starting', 'running', 'degraded')`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to delete pipeline")
	}
	return s.requireRow(ctx, res, id, "pipeline must be stopped before deletion")
}

// requireRow converts a zero-row guarded write into not_found or conflict.
func (s *Store) requireRow(ctx context.Context, res sql.Result, id, conflictMsg string) error {
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}
	if _, err := s.GetPipeline(ctx, id); err != nil {
		return err
	}
	return errors.New(errors.ErrorTypeConflict, conflictMsg)
}

func marshalPipelineJSON(p *model.Pipeline) (tags, cfg, mappings, proc string, err error) {
	t, err := json.Marshal(orEmptyTags(p.Tags))
	if err != nil {
		return "", "", "", "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal tags")
	}
	c, err := json.Marshal(orEmptyMap(p.ProviderConfig))
	if err != nil {
		return "", "", "", "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal provider config")
	}
	m, err := json.Marshal(orEmptyStrMap(p.FieldMappings))
	if err != nil {
		return "", "", "", "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal field mappings")
	}
	pr, err := json.Marshal(p.Processing)
	if err != nil {
		return "", "", "", "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal processing policy")
	}
	return string(t), string(c), string(m), string(pr), nil
}

func orEmptyTags(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func orEmptyStrMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPipeline(row rowScanner) (*model.Pipeline, error) {
	var p model.Pipeline
	var status, priority, tags, cfg, mappings, proc string
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.ProviderKind, &p.Description, &status,
		&p.Enabled, &priority, &p.Owner, &tags, &p.TargetTable, &cfg,
		&p.CredentialReference, &mappings, &proc, &p.ScheduleExpression,
		&p.ScheduleTimezone, &p.IncrementalEnabled, &p.WatermarkColumn, &p.Watermark,
		&p.LastError, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrorTypeNotFound, "pipeline not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan pipeline")
	}
	p.Status = model.Status(status)
	p.Priority = model.Priority(priority)
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt tags column")
	}
	if err := json.Unmarshal([]byte(cfg), &p.ProviderConfig); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt provider_config column")
	}
	if err := json.Unmarshal([]byte(mappings), &p.FieldMappings); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt field_mappings column")
	}
	if err := json.Unmarshal([]byte(proc), &p.Processing); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "corrupt processing column")
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
