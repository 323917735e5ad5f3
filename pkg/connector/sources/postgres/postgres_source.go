// Package postgres extracts rows from a PostgreSQL database on a
// schedule. Incremental pipelines filter on the watermark column and
// the pass finishes when the cursor drains.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// watermarkPlaceholder is the marker operators put in a custom
// source_query where the last committed watermark belongs.
const watermarkPlaceholder = ":last_sync_timestamp"

// Source reads one extraction query per pass.
type Source struct {
	pool    *pgxpool.Pool
	rows    pgx.Rows
	columns []string
	logger  *zap.Logger

	query    string
	args     []interface{}
	keyCol   string
	wmCol    string
	maxWM    string
	deadline time.Time
}

// New creates an unopened PostgreSQL source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "postgres"))}
}

// Open connects the pool and prepares the extraction query. The query
// itself runs on the first Fetch.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	pool, err := connect(ctx, params)
	if err != nil {
		return err
	}
	s.pool = pool

	s.query, s.args, err = buildQuery(params)
	if err != nil {
		pool.Close()
		return err
	}
	s.wmCol = params.String("watermark_column")
	if !params.Bool("incremental_enabled", true) {
		s.wmCol = ""
	}
	s.deadline = time.Now().Add(time.Duration(params.Int("max_runtime_minutes", 60)) * time.Minute)
	return nil
}

// Fetch streams rows from the cursor, up to max per call. The pass
// reports done when the cursor drains or the runtime budget expires.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	if s.rows == nil {
		rows, err := s.pool.Query(ctx, s.query, s.args...)
		if err != nil {
			return nil, false, wrapPGErr(err, "extraction query failed")
		}
		s.rows = rows
		for _, fd := range rows.FieldDescriptions() {
			s.columns = append(s.columns, string(fd.Name))
		}
	}

	var out []model.Record
	for len(out) < max {
		if !s.rows.Next() {
			if err := s.rows.Err(); err != nil {
				return out, false, wrapPGErr(err, "row read failed")
			}
			return out, true, nil
		}
		values, err := s.rows.Values()
		if err != nil {
			return out, false, wrapPGErr(err, "row decode failed")
		}
		data := make(map[string]interface{}, len(s.columns))
		for i, col := range s.columns {
			data[col] = normalize(values[i])
		}
		rec := model.Record{Data: data, Timestamp: time.Now().UTC()}
		if len(s.columns) > 0 {
			rec.Key = fmt.Sprintf("%v", data[s.columns[0]])
		}
		if s.wmCol != "" {
			if v, ok := data[s.wmCol]; ok && v != nil {
				wm := fmt.Sprintf("%v", v)
				if wm > s.maxWM {
					s.maxWM = wm
				}
			}
		}
		out = append(out, rec)
	}
	if time.Now().After(s.deadline) {
		s.logger.Warn("runtime budget exhausted, finishing pass early")
		return out, true, nil
	}
	return out, false, nil
}

// Checkpoint returns the highest watermark value delivered this pass.
func (s *Source) Checkpoint(_ context.Context) (string, error) {
	return s.maxWM, nil
}

// Close releases the cursor and the pool.
func (s *Source) Close(_ context.Context) error {
	if s.rows != nil {
		s.rows.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Test connects and verifies the source table or query is readable.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	pool, err := connect(ctx, params)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return wrapPGErr(err, "database ping failed")
	}
	if table := params.String("source_table"); table != "" {
		probe := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", qualifiedTable(params, table))
		if _, err := pool.Exec(ctx, probe); err != nil {
			return wrapPGErr(err, "source table probe failed")
		}
	}
	return nil
}

func connect(ctx context.Context, params core.OpenParams) (*pgxpool.Pool, error) {
	host := params.String("host")
	database := params.String("database")
	username := params.Cred("username")
	password := params.Cred("password")
	if host == "" || database == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "host and database are required")
	}
	if username == "" || password == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication,
			"username and password credentials are required")
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		url.QueryEscape(username), url.QueryEscape(password),
		host, params.Int("port", 5432), database,
		params.StringDefault("ssl_mode", "require"),
		params.Int("connection_pool_size", 5))

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, wrapPGErr(err, "connection failed")
	}
	return pool, nil
}

func buildQuery(params core.OpenParams) (string, []interface{}, error) {
	if q := params.String("source_query"); q != "" {
		if strings.Contains(q, watermarkPlaceholder) {
			return strings.ReplaceAll(q, watermarkPlaceholder, "$1"),
				[]interface{}{watermarkOrEpoch(params.Watermark)}, nil
		}
		return q, nil, nil
	}
	table := params.String("source_table")
	if table == "" {
		return "", nil, errors.New(errors.ErrorTypeConfig,
			"either source_table or source_query is required")
	}
	query := fmt.Sprintf("SELECT * FROM %s", qualifiedTable(params, table))
	wmCol := params.String("watermark_column")
	if params.Bool("incremental_enabled", true) && wmCol != "" {
		query += fmt.Sprintf(" WHERE %s > $1 ORDER BY %s", wmCol, wmCol)
		return query, []interface{}{watermarkOrEpoch(params.Watermark)}, nil
	}
	return query, nil, nil
}

func qualifiedTable(params core.OpenParams, table string) string {
	if strings.Contains(table, ".") {
		return table
	}
	return params.StringDefault("schema_name", "public") + "." + table
}

func watermarkOrEpoch(wm string) string {
	if wm == "" {
		return "1970-01-01T00:00:00Z"
	}
	return wm
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case [16]byte: // uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return v
	}
}

func wrapPGErr(err error, msg string) error {
	t := errors.ErrorTypeConnection
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "28P01", pgErr.Code == "28000":
			t = errors.ErrorTypeAuthentication
		case strings.HasPrefix(pgErr.Code, "42"):
			t = errors.ErrorTypeData
		case pgErr.Code == "57014":
			t = errors.ErrorTypeTimeout
		}
	}
	return errors.Wrap(err, t, msg)
}
