// Package upload ingests operator-submitted files from the local spool
// directory. A pass drains whatever sits in the pipeline's incoming
// folder; the console's upload endpoint triggers the pass.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/sources/fileformat"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// Source reads validated upload files row by row.
type Source struct {
	logger *zap.Logger

	incoming  string
	processed string
	failed    string

	files []string
	idx   int

	reader   *fileformat.Reader
	rows     int
	rejected bool

	maxBytes  int64
	minRows   int
	maxRows   int
	required  []string
	checksums bool
	encoding  string
	format    fileformat.Options
}

func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "file_upload"))}
}

// Open lists the pipeline's incoming files, oldest first.
func (s *Source) Open(_ context.Context, params core.OpenParams) error {
	spool := params.StringDefault("spool_dir", "uploads")
	base := filepath.Join(spool, params.PipelineID)
	s.incoming = filepath.Join(base, "incoming")
	s.processed = filepath.Join(base, "processed")
	s.failed = filepath.Join(base, "failed")
	for _, dir := range []string{s.incoming, s.processed, s.failed} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "preparing spool directory failed")
		}
	}

	s.maxBytes = int64(params.Int("max_file_size_mb", 500)) << 20
	s.minRows = params.Int("min_rows", 1)
	s.maxRows = params.Int("max_records_per_file", 10_000_000)
	s.required = params.StringList("required_columns")
	s.checksums = params.Bool("checksum_validation", true)
	s.encoding = params.StringDefault("csv_encoding", "utf-8")
	s.format = fileformat.Options{
		Format:    "csv",
		Delimiter: fileformat.DelimiterOf(params.StringDefault("csv_delimiter", ",")),
		Header:    params.Bool("csv_header", true),
	}

	entries, err := os.ReadDir(s.incoming)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "listing spool directory failed")
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".sha256") {
			continue
		}
		s.files = append(s.files, entry.Name())
	}
	sort.Strings(s.files)
	s.logger.Info("upload pass planned", zap.Int("files", len(s.files)))
	return nil
}

// Fetch streams rows from the current file, moving it aside when drained.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	var out []model.Record
	for len(out) < max {
		select {
		case <-ctx.Done():
			return out, false, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "fetch cancelled")
		default:
		}

		if s.reader == nil {
			if s.idx >= len(s.files) {
				return out, true, nil
			}
			if err := s.openFile(); err != nil {
				// Rejected files are moved to failed/ and skipped so one
				// bad upload does not block the rest of the batch.
				s.logger.Warn("upload rejected",
					zap.String("file", s.files[s.idx]), zap.Error(err))
				s.moveAside(s.files[s.idx], s.failed)
				s.idx++
				continue
			}
		}

		rec, err := s.reader.Next()
		if err == io.EOF {
			s.finishFile()
			continue
		}
		name := s.files[s.idx]
		if err != nil {
			rec.Source = map[string]string{"file": name}
			out = append(out, rec)
			continue
		}
		s.rows++
		if s.rows > s.maxRows {
			s.rejected = true
			s.finishFile()
			return out, false, errors.Newf(errors.ErrorTypeData,
				"%s exceeds max_records_per_file (%d)", name, s.maxRows)
		}
		rec.Source = map[string]string{"file": name, "line": rec.Source["line"]}
		out = append(out, rec)
	}
	return out, false, nil
}

// openFile validates the next upload and positions a reader on it.
func (s *Source) openFile() error {
	name := s.files[s.idx]
	full := filepath.Join(s.incoming, name)

	info, err := os.Stat(full)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNotFound, "upload disappeared")
	}
	if info.Size() > s.maxBytes {
		return errors.Newf(errors.ErrorTypeData, "%s exceeds max_file_size_mb", name)
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "reading upload failed")
	}
	if s.checksums {
		if err := s.verifyChecksum(full, raw); err != nil {
			return err
		}
	}
	if s.encoding == "latin-1" {
		raw, err = io.ReadAll(charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(raw)))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "decoding latin-1 upload failed")
		}
	}
	if err := s.precheck(name, raw); err != nil {
		return err
	}

	reader, err := fileformat.NewReader(bytes.NewReader(raw), s.format)
	if err != nil {
		return err
	}
	s.reader = reader
	s.rows = 0
	s.rejected = false
	return nil
}

// precheck enforces header and row-count rules before any row is emitted.
func (s *Source) precheck(name string, raw []byte) error {
	lines := bytes.Count(raw, []byte{'\n'})
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		lines++
	}
	dataRows := lines
	if s.format.Header {
		dataRows--
	}
	if dataRows < s.minRows {
		return errors.Newf(errors.ErrorTypeData, "%s has %d rows, minimum is %d", name, dataRows, s.minRows)
	}
	if len(s.required) == 0 || !s.format.Header {
		return nil
	}
	head := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		head = raw[:i]
	}
	columns := map[string]bool{}
	for _, col := range strings.Split(strings.TrimRight(string(head), "\r"), string(s.format.Delimiter)) {
		columns[strings.TrimSpace(col)] = true
	}
	for _, want := range s.required {
		if !columns[want] {
			return errors.Newf(errors.ErrorTypeData, "%s is missing required column %q", name, want)
		}
	}
	return nil
}

// verifyChecksum checks the sidecar .sha256 file when one was uploaded.
func (s *Source) verifyChecksum(full string, raw []byte) error {
	sidecar, err := os.ReadFile(full + ".sha256")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "reading checksum sidecar failed")
	}
	want := strings.ToLower(strings.Fields(string(sidecar))[0])
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != want {
		return errors.New(errors.ErrorTypeData, "upload checksum mismatch")
	}
	return nil
}

func (s *Source) finishFile() {
	name := s.files[s.idx]
	_ = s.reader.Close()
	s.reader = nil
	dest := s.processed
	if s.rejected {
		dest = s.failed
	}
	s.moveAside(name, dest)
	s.idx++
}

func (s *Source) moveAside(name, dest string) {
	src := filepath.Join(s.incoming, name)
	stamp := time.Now().UTC().Format("20060102T150405")
	if err := os.Rename(src, filepath.Join(dest, stamp+"_"+name)); err != nil {
		s.logger.Warn("moving upload aside failed", zap.String("file", name), zap.Error(err))
	}
	_ = os.Remove(src + ".sha256")
}

// Checkpoint is a no-op: processed files leave the incoming folder, so
// there is no watermark to carry.
func (s *Source) Checkpoint(_ context.Context) (string, error) { return "", nil }

func (s *Source) Close(_ context.Context) error {
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

// Test verifies the spool directory is writable.
func (s *Source) Test(_ context.Context, params core.OpenParams) error {
	spool := params.StringDefault("spool_dir", "uploads")
	dir := filepath.Join(spool, params.PipelineID, "incoming")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "spool directory is not writable")
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "spool directory is not writable")
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
