package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

const dlqColumns = `id, pipeline_id, message_key, message_value, error_type, error_message,
	stage, retry_count, max_retries, resolution, created_at, updated_at`

// InsertDLQEntry captures a failed record. New entries are always pending.
func (s *Store) InsertDLQEntry(ctx context.Context, e *model.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Resolution = model.ResolutionPending

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dlq_entries (`+dlqColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PipelineID, e.MessageKey, e.MessageValue, e.ErrorType, e.ErrorMessage,
		string(e.Stage), e.RetryCount, e.MaxRetries, string(e.Resolution),
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to insert dead letter entry")
	}
	return nil
}

// GetDLQEntry fetches a single entry scoped to a pipeline.
func (s *Store) GetDLQEntry(ctx context.Context, pipelineID, entryID string) (*model.DLQEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM dlq_entries WHERE id = ? AND pipeline_id = ?`,
		entryID, pipelineID)
	return scanDLQEntry(row)
}

// ListDLQEntries lists entries for a pipeline, newest first, with
// optional stage/resolution filters and pagination.
func (s *Store) ListDLQEntries(ctx context.Context, pipelineID string, filter model.DLQFilter) ([]*model.DLQEntry, int, error) {
	where := `WHERE pipeline_id = ?`
	args := []interface{}{pipelineID}
	if filter.Stage != "" {
		where += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Resolution != "" {
		where += ` AND resolution = ?`
		args = append(args, string(filter.Resolution))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq_entries `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to count dead letter entries")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dlqColumns+` FROM dlq_entries `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list dead letter entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ListRetryableDLQEntries returns pending entries under their retry
// budget, oldest first, for bulk retry.
func (s *Store) ListRetryableDLQEntries(ctx context.Context, pipelineID string) ([]*model.DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dlqColumns+` FROM dlq_entries
		 WHERE pipeline_id = ? AND resolution = 'pending' AND retry_count < max_retries
		 ORDER BY created_at`,
		pipelineID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list retryable entries")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.DLQEntry
	for rows.Next() {
		e, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveDLQEntry marks a pending entry resolved. Entries that already
// reached a terminal resolution are immutable.
func (s *Store) ResolveDLQEntry(ctx context.Context, entryID string) error {
	return s.settleDLQEntry(ctx, entryID, model.ResolutionResolved)
}

// DiscardDLQEntry marks a pending entry discarded.
func (s *Store) DiscardDLQEntry(ctx context.Context, entryID string) error {
	return s.settleDLQEntry(ctx, entryID, model.ResolutionDiscarded)
}

func (s *Store) settleDLQEntry(ctx context.Context, entryID string, r model.Resolution) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dlq_entries SET resolution = ?, updated_at = ? WHERE id = ? AND resolution = 'pending'`,
		string(r), time.Now().UTC(), entryID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to settle dead letter entry")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Newf(errors.ErrorTypeConflict, "dead letter entry %s is not pending", entryID)
	}
	return nil
}

// IncrementDLQRetry bumps the retry counter after a failed replay. The
// guarded predicate keeps retry_count at or under max_retries even under
// concurrent replays.
func (s *Store) IncrementDLQRetry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dlq_entries SET retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ? AND resolution = 'pending' AND retry_count < max_retries`,
		time.Now().UTC(), entryID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to increment retry count")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Newf(errors.ErrorTypeConflict, "dead letter entry %s has exhausted retries or is settled", entryID)
	}
	return nil
}

func scanDLQEntry(row rowScanner) (*model.DLQEntry, error) {
	var e model.DLQEntry
	var stage, resolution string
	err := row.Scan(&e.ID, &e.PipelineID, &e.MessageKey, &e.MessageValue, &e.ErrorType,
		&e.ErrorMessage, &stage, &e.RetryCount, &e.MaxRetries, &resolution,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrorTypeNotFound, "dead letter entry not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan dead letter entry")
	}
	e.Stage = model.ProcessingStage(stage)
	e.Resolution = model.Resolution(resolution)
	return &e, nil
}
