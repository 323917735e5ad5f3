// Package store persists pipelines, dead letter entries, and metric
// buckets in SQLite. Lifecycle and immutability rules are enforced at
// the statement level with guarded updates so concurrent writers cannot
// race past them.
package store

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and migrates) the store at path. ":memory:" gives an
// ephemeral store for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open store")
	}
	// SQLite allows one writer; serialize access through a single conn to
	// avoid SQLITE_BUSY under concurrent executors.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.Get().With(zap.String("component", "store")),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS pipelines (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	slug                 TEXT NOT NULL UNIQUE,
	provider_kind        TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	enabled              INTEGER NOT NULL DEFAULT 1,
	priority             TEXT NOT NULL DEFAULT 'standard',
	owner                TEXT NOT NULL DEFAULT '',
	tags                 TEXT NOT NULL DEFAULT '[]',
	target_table         TEXT NOT NULL,
	provider_config      TEXT NOT NULL DEFAULT '{}',
	credential_reference TEXT NOT NULL DEFAULT '',
	field_mappings       TEXT NOT NULL DEFAULT '{}',
	processing           TEXT NOT NULL DEFAULT '{}',
	schedule_expression  TEXT NOT NULL DEFAULT '',
	schedule_timezone    TEXT NOT NULL DEFAULT '',
	incremental_enabled  INTEGER NOT NULL DEFAULT 0,
	watermark_column     TEXT NOT NULL DEFAULT '',
	watermark            TEXT NOT NULL DEFAULT '',
	last_error           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS dlq_entries (
	id            TEXT PRIMARY KEY,
	pipeline_id   TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	message_key   TEXT NOT NULL DEFAULT '',
	message_value BLOB,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	stage         TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 3,
	resolution    TEXT NOT NULL DEFAULT 'pending',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dlq_pipeline ON dlq_entries(pipeline_id, resolution);

CREATE TABLE IF NOT EXISTS metric_buckets (
	pipeline_id      TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	bucket_start     TIMESTAMP NOT NULL,
	records_in       INTEGER NOT NULL DEFAULT 0,
	records_out      INTEGER NOT NULL DEFAULT 0,
	records_failed   INTEGER NOT NULL DEFAULT 0,
	records_deduped  INTEGER NOT NULL DEFAULT 0,
	batch_count      INTEGER NOT NULL DEFAULT 0,
	total_latency_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pipeline_id, bucket_start)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to migrate store schema")
	}
	return nil
}

// DB exposes the handle for transactional helpers in this package.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to commit transaction")
	}
	return nil
}
