// Package snowflake extracts rows from a Snowflake warehouse on a
// schedule, with password or key-pair authentication.
package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"github.com/youmark/pkcs8"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

const watermarkPlaceholder = ":last_sync_timestamp"

// Source reads one extraction query per pass.
type Source struct {
	db      *sql.DB
	rows    *sql.Rows
	columns []string
	logger  *zap.Logger

	query    string
	args     []interface{}
	wmCol    string
	maxWM    string
	deadline time.Time
}

// New creates an unopened Snowflake source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "snowflake"))}
}

// Open validates the DSN and connects. The query runs on first Fetch.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	db, err := connect(ctx, params)
	if err != nil {
		return err
	}
	s.db = db

	s.query, s.args, err = buildQuery(params)
	if err != nil {
		_ = db.Close()
		return err
	}
	s.wmCol = params.String("watermark_column")
	if !params.Bool("incremental_enabled", true) {
		s.wmCol = ""
	}
	s.deadline = time.Now().Add(time.Duration(params.Int("max_runtime_minutes", 60)) * time.Minute)
	return nil
}

// Fetch streams rows from the result set up to max per call.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	if s.rows == nil {
		rows, err := s.db.QueryContext(ctx, s.query, s.args...)
		if err != nil {
			return nil, false, wrapSnowflakeErr(err, "extraction query failed")
		}
		s.rows = rows
		s.columns, err = rows.Columns()
		if err != nil {
			return nil, false, wrapSnowflakeErr(err, "reading result columns failed")
		}
	}

	var out []model.Record
	holders := make([]interface{}, len(s.columns))
	for i := range holders {
		holders[i] = new(interface{})
	}
	for len(out) < max {
		if !s.rows.Next() {
			if err := s.rows.Err(); err != nil {
				return out, false, wrapSnowflakeErr(err, "row read failed")
			}
			return out, true, nil
		}
		if err := s.rows.Scan(holders...); err != nil {
			return out, false, wrapSnowflakeErr(err, "row decode failed")
		}
		data := make(map[string]interface{}, len(s.columns))
		for i, col := range s.columns {
			data[strings.ToLower(col)] = normalize(*holders[i].(*interface{}))
		}
		rec := model.Record{Data: data, Timestamp: time.Now().UTC()}
		if len(s.columns) > 0 {
			rec.Key = fmt.Sprintf("%v", data[strings.ToLower(s.columns[0])])
		}
		if s.wmCol != "" {
			if v, ok := data[strings.ToLower(s.wmCol)]; ok && v != nil {
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

// Close releases the result set and connection.
func (s *Source) Close(_ context.Context) error {
	if s.rows != nil {
		_ = s.rows.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Test connects and runs a trivial probe query.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	db, err := connect(ctx, params)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return wrapSnowflakeErr(err, "warehouse ping failed")
	}
	if table := params.String("source_table"); table != "" {
		probe := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", table)
		if _, err := db.ExecContext(ctx, probe); err != nil {
			return wrapSnowflakeErr(err, "source table probe failed")
		}
	}
	return nil
}

func connect(ctx context.Context, params core.OpenParams) (*sql.DB, error) {
	account := params.String("account")
	warehouse := params.String("warehouse")
	database := params.String("database")
	username := params.Cred("username")
	if account == "" || warehouse == "" || database == "" {
		return nil, errors.New(errors.ErrorTypeConfig,
			"account, warehouse, and database are required")
	}
	if username == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "username credential is required")
	}

	cfg := &sf.Config{
		Account:   account,
		User:      username,
		Database:  database,
		Schema:    params.StringDefault("schema_name", "PUBLIC"),
		Warehouse: warehouse,
		Role:      params.String("role"),
	}
	switch params.StringDefault("auth_method", "password") {
	case "private_key":
		key, err := parsePrivateKey(params.Cred("private_key"), params.Cred("passphrase"))
		if err != nil {
			return nil, err
		}
		cfg.Authenticator = sf.AuthTypeJwt
		cfg.PrivateKey = key
	default:
		password := params.Cred("password")
		if password == "" {
			return nil, errors.New(errors.ErrorTypeAuthentication, "password credential is required")
		}
		cfg.Password = password
	}

	dsn, err := sf.DSN(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "building DSN failed")
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, wrapSnowflakeErr(err, "connection failed")
	}
	db.SetMaxOpenConns(2)
	_ = ctx
	return db, nil
}

func parsePrivateKey(pemData, passphrase string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "private_key credential is required")
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New(errors.ErrorTypeAuthentication, "private key is not valid PEM")
	}
	if passphrase != "" {
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "decrypting private key failed")
		}
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "parsing private key failed")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New(errors.ErrorTypeAuthentication, "private key is not RSA")
	}
	return key, nil
}

func buildQuery(params core.OpenParams) (string, []interface{}, error) {
	if q := params.String("source_query"); q != "" {
		if strings.Contains(q, watermarkPlaceholder) {
			return strings.ReplaceAll(q, watermarkPlaceholder, "?"),
				[]interface{}{watermarkOrEpoch(params.Watermark)}, nil
		}
		return q, nil, nil
	}
	table := params.String("source_table")
	if table == "" {
		return "", nil, errors.New(errors.ErrorTypeConfig,
			"either source_table or source_query is required")
	}
	query := fmt.Sprintf("SELECT * FROM %s", table)
	wmCol := params.String("watermark_column")
	if params.Bool("incremental_enabled", true) && wmCol != "" {
		query += fmt.Sprintf(" WHERE %s > ? ORDER BY %s", wmCol, wmCol)
		return query, []interface{}{watermarkOrEpoch(params.Watermark)}, nil
	}
	return query, nil, nil
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
	case []byte:
		return string(t)
	default:
		return v
	}
}

func wrapSnowflakeErr(err error, msg string) error {
	t := errors.ErrorTypeConnection
	var sfErr *sf.SnowflakeError
	if stderrors.As(err, &sfErr) {
		switch {
		case sfErr.Number == 390100 || sfErr.Number == 390102:
			t = errors.ErrorTypeAuthentication
		case sfErr.Number >= 1003 && sfErr.Number < 2000:
			t = errors.ErrorTypeData
		}
	} else if strings.Contains(err.Error(), "Incorrect username or password") {
		t = errors.ErrorTypeAuthentication
	}
	return errors.Wrap(err, t, msg)
}
