package fileformat

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

func readAll(t *testing.T, r *Reader) []model.Record {
	t.Helper()
	var out []model.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestCSVWithHeader(t *testing.T) {
	input := "deposit_id,amount\nd-1,100\nd-2,250\n"
	r, err := NewReader(strings.NewReader(input), Options{Format: "csv", Header: true})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	recs := readAll(t, r)
	require.Len(t, recs, 2)
	assert.Equal(t, "d-1", recs[0].Data["deposit_id"])
	assert.Equal(t, "100", recs[0].Data["amount"])
	assert.Equal(t, "1", recs[0].Source["line"])
	assert.Equal(t, "2", recs[1].Source["line"])
}

func TestCSVWithoutHeader(t *testing.T) {
	r, err := NewReader(strings.NewReader("a,b\nc,d\n"), Options{Format: "csv"})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	recs := readAll(t, r)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Data["column_1"])
	assert.Equal(t, "b", recs[0].Data["column_2"])
}

func TestCSVCustomDelimiter(t *testing.T) {
	r, err := NewReader(strings.NewReader("id|amount\n1|5\n"),
		Options{Format: "csv", Header: true, Delimiter: '|'})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	recs := readAll(t, r)
	require.Len(t, recs, 1)
	assert.Equal(t, "5", recs[0].Data["amount"])
}

func TestCSVEmptyFileWithHeaderOption(t *testing.T) {
	r, err := NewReader(strings.NewReader(""), Options{Format: "csv", Header: true})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	assert.Empty(t, readAll(t, r))
}

func TestJSONLines(t *testing.T) {
	input := `{"id":"1","amount":10}` + "\n\n" + `{"id":"2","amount":20}` + "\n"
	r, err := NewReader(strings.NewReader(input), Options{Format: "jsonl"})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	recs := readAll(t, r)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].Data["id"])
	assert.Equal(t, float64(20), recs[1].Data["amount"])
	assert.NotNil(t, recs[0].Raw)
}

func TestJSONLinesMalformedLine(t *testing.T) {
	r, err := NewReader(strings.NewReader("{broken\n"), Options{Format: "jsonl"})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	_, err = r.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestJSONArray(t *testing.T) {
	input := `[{"id":"1"},{"id":"2"},{"id":"3"}]`
	r, err := NewReader(strings.NewReader(input), Options{Format: "json"})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	recs := readAll(t, r)
	require.Len(t, recs, 3)
	assert.Equal(t, "3", recs[2].Data["id"])
}

func TestJSONArrayRejectsObjectRoot(t *testing.T) {
	_, err := NewReader(strings.NewReader(`{"id":"1"}`), Options{Format: "json"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestGzipCSV(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("id,amount\n1,9\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	r, err := NewReader(&buf, Options{Format: "csv", Header: true, Compression: "gzip"})
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	recs := readAll(t, r)
	require.Len(t, recs, 1)
	assert.Equal(t, "9", recs[0].Data["amount"])
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := NewReader(strings.NewReader(""), Options{Format: "xml"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestDelimiterOf(t *testing.T) {
	assert.Equal(t, ',', DelimiterOf(""))
	assert.Equal(t, '\t', DelimiterOf("tab"))
	assert.Equal(t, '\t', DelimiterOf(`\t`))
	assert.Equal(t, ';', DelimiterOf(";"))
}
