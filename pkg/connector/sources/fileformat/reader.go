// Package fileformat streams records out of CSV, JSON array, and
// JSON-lines files, with optional gzip decompression. The file-based
// sources (object storage, SFTP, uploads) all parse through it.
package fileformat

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// Options selects the file format.
type Options struct {
	// Format is "csv", "json" (array of objects), or "jsonl".
	Format string
	// Delimiter applies to CSV; zero means comma.
	Delimiter rune
	// Header marks the first CSV row as column names.
	Header bool
	// Compression is "none" or "gzip".
	Compression string
}

// Reader yields one record per row or object. Next returns io.EOF when
// the file drains.
type Reader struct {
	next    func() (model.Record, error)
	closers []io.Closer
	line    int64
}

// NewReader wraps r with the configured decompression and parser.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	fr := &Reader{}

	if opts.Compression == "gzip" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "gzip open failed")
		}
		fr.closers = append(fr.closers, gz)
		r = gz
	}

	switch strings.ToLower(opts.Format) {
	case "jsonl", "ndjson":
		fr.next = fr.jsonlNext(bufio.NewScanner(r))
	case "json":
		next, err := fr.jsonArrayNext(r)
		if err != nil {
			return nil, err
		}
		fr.next = next
	case "parquet":
		next, err := fr.parquetNext(r)
		if err != nil {
			return nil, err
		}
		fr.next = next
	case "avro":
		next, err := fr.avroNext(r)
		if err != nil {
			return nil, err
		}
		fr.next = next
	case "csv", "":
		next, err := fr.csvNext(r, opts)
		if err != nil {
			return nil, err
		}
		fr.next = next
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported file format %q", opts.Format)
	}
	return fr, nil
}

// Next returns the next record, or io.EOF.
func (fr *Reader) Next() (model.Record, error) {
	rec, err := fr.next()
	if err != nil {
		return rec, err
	}
	fr.line++
	rec.Source = map[string]string{"line": fmt.Sprintf("%d", fr.line)}
	return rec, nil
}

// Close releases the decompressor, if any.
func (fr *Reader) Close() error {
	var firstErr error
	for _, c := range fr.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (fr *Reader) csvNext(r io.Reader, opts Options) (func() (model.Record, error), error) {
	cr := csv.NewReader(r)
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1

	var header []string
	if opts.Header {
		row, err := cr.Read()
		if err == io.EOF {
			return func() (model.Record, error) { return model.Record{}, io.EOF }, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "reading CSV header failed")
		}
		header = row
	}

	return func() (model.Record, error) {
		row, err := cr.Read()
		if err == io.EOF {
			return model.Record{}, io.EOF
		}
		if err != nil {
			return model.Record{}, errors.Wrap(err, errors.ErrorTypeData, "malformed CSV row")
		}
		data := make(map[string]interface{}, len(row))
		for i, v := range row {
			data[columnName(header, i)] = v
		}
		return model.Record{Data: data}, nil
	}, nil
}

func (fr *Reader) jsonlNext(scanner *bufio.Scanner) func() (model.Record, error) {
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return func() (model.Record, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var data map[string]interface{}
			if err := json.Unmarshal([]byte(line), &data); err != nil {
				return model.Record{Raw: []byte(line)},
					errors.Wrap(err, errors.ErrorTypeData, "malformed JSON line")
			}
			return model.Record{Data: data, Raw: []byte(line)}, nil
		}
		if err := scanner.Err(); err != nil {
			return model.Record{}, errors.Wrap(err, errors.ErrorTypeData, "file read failed")
		}
		return model.Record{}, io.EOF
	}
}

func (fr *Reader) jsonArrayNext(r io.Reader) (func() (model.Record, error), error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "file is not valid JSON")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, errors.New(errors.ErrorTypeData, "JSON file must be an array of objects")
	}

	return func() (model.Record, error) {
		if !dec.More() {
			return model.Record{}, io.EOF
		}
		var data map[string]interface{}
		if err := dec.Decode(&data); err != nil {
			return model.Record{}, errors.Wrap(err, errors.ErrorTypeData, "malformed JSON object")
		}
		raw, _ := json.Marshal(data)
		return model.Record{Data: data, Raw: raw}, nil
	}, nil
}

func columnName(header []string, i int) string {
	if i < len(header) && header[i] != "" {
		return header[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

// DelimiterOf parses a single-character delimiter config value.
func DelimiterOf(s string) rune {
	if s == "" {
		return ','
	}
	if s == "\\t" || s == "tab" {
		return '\t'
	}
	return []rune(s)[0]
}
