// Package s3 ingests files from object storage (S3, GCS, Azure Blob) on
// a schedule. Objects newer than the watermark are processed oldest
// first, and the watermark advances to the newest fully-processed
// object's modification time.
package s3

import (
	"context"
	"io"
	"path"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/sources/fileformat"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// objectInfo is one listed object.
type objectInfo struct {
	Key      string
	Modified time.Time
}

// objectStore abstracts the three storage backends.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]objectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Archive(ctx context.Context, key, archivePrefix string) error
	Close() error
}

// Source drains new objects from a bucket, one pass per schedule tick.
type Source struct {
	store  objectStore
	logger *zap.Logger

	objects []objectInfo
	idx     int
	body    io.ReadCloser
	reader  *fileformat.Reader

	format      fileformat.Options
	archive     bool
	archiveTo   string
	deadline    time.Time
	completedWM time.Time
}

// New creates an unopened object storage source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "s3"))}
}

// Open connects the backend and lists the pass's objects.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	store, err := buildStore(ctx, params)
	if err != nil {
		return err
	}
	s.store = store

	s.format = fileformat.Options{
		Format:      params.StringDefault("file_format", "csv"),
		Delimiter:   fileformat.DelimiterOf(params.StringDefault("csv_delimiter", ",")),
		Header:      params.Bool("csv_header", true),
		Compression: params.StringDefault("compression", "none"),
	}
	s.archive = params.Bool("archive_processed", true)
	s.archiveTo = params.StringDefault("archive_prefix", "processed/")
	s.deadline = time.Now().Add(time.Duration(params.Int("max_runtime_minutes", 120)) * time.Minute)

	var since time.Time
	if params.Watermark != "" {
		if t, err := time.Parse(time.RFC3339Nano, params.Watermark); err == nil {
			since = t
		}
	}
	s.completedWM = since

	listed, err := store.List(ctx, params.String("prefix"))
	if err != nil {
		return err
	}
	pattern := params.StringDefault("file_pattern", "*")
	for _, obj := range listed {
		if !obj.Modified.After(since) {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(obj.Key)); !ok {
			continue
		}
		s.objects = append(s.objects, obj)
	}
	sort.Slice(s.objects, func(i, j int) bool {
		return s.objects[i].Modified.Before(s.objects[j].Modified)
	})
	s.logger.Info("pass planned", zap.Int("objects", len(s.objects)))
	return nil
}

// Fetch streams records from the current object, advancing to the next
// when it drains. The pass reports done after the last object.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	var out []model.Record
	for len(out) < max {
		if s.reader == nil {
			if s.idx >= len(s.objects) {
				return out, true, nil
			}
			if time.Now().After(s.deadline) {
				s.logger.Warn("runtime budget exhausted, finishing pass early",
					zap.Int("remaining_objects", len(s.objects)-s.idx))
				return out, true, nil
			}
			if err := s.openObject(ctx); err != nil {
				return out, false, err
			}
		}

		rec, err := s.reader.Next()
		if err == io.EOF {
			if err := s.finishObject(ctx); err != nil {
				return out, false, err
			}
			continue
		}
		if err != nil {
			// A bad row still flows to the executor for dead-lettering.
			rec.Source = map[string]string{"object": s.objects[s.idx].Key}
			out = append(out, rec)
			continue
		}
		obj := s.objects[s.idx]
		rec.Source = map[string]string{"object": obj.Key, "line": rec.Source["line"]}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = obj.Modified
		}
		out = append(out, rec)
	}
	return out, false, nil
}

func (s *Source) openObject(ctx context.Context) error {
	obj := s.objects[s.idx]
	body, err := s.store.Get(ctx, obj.Key)
	if err != nil {
		return err
	}
	reader, err := fileformat.NewReader(body, s.format)
	if err != nil {
		_ = body.Close()
		return errors.Wrap(err, errors.TypeOf(err), "opening "+obj.Key+" failed")
	}
	s.body = body
	s.reader = reader
	s.logger.Debug("object opened", zap.String("key", obj.Key))
	return nil
}

func (s *Source) finishObject(ctx context.Context) error {
	obj := s.objects[s.idx]
	_ = s.reader.Close()
	_ = s.body.Close()
	s.reader = nil
	s.body = nil

	if s.archive {
		if err := s.store.Archive(ctx, obj.Key, s.archiveTo); err != nil {
			s.logger.Warn("archiving object failed",
				zap.String("key", obj.Key), zap.Error(err))
		}
	}
	if obj.Modified.After(s.completedWM) {
		s.completedWM = obj.Modified
	}
	s.idx++
	return nil
}

// Checkpoint returns the newest fully-processed object's timestamp.
func (s *Source) Checkpoint(_ context.Context) (string, error) {
	if s.completedWM.IsZero() {
		return "", nil
	}
	return s.completedWM.UTC().Format(time.RFC3339Nano), nil
}

// Close releases the current object and the backend client.
func (s *Source) Close(_ context.Context) error {
	if s.reader != nil {
		_ = s.reader.Close()
	}
	if s.body != nil {
		_ = s.body.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Test connects and lists the bucket prefix.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	store, err := buildStore(ctx, params)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.List(ctx, params.String("prefix"))
	return err
}
