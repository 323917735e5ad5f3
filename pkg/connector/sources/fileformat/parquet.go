package fileformat

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// parquetNext buffers the file (parquet needs a seekable reader) and
// streams rows out of the arrow record batches.
func (fr *Reader) parquetNext(r io.Reader) (func() (model.Record, error), error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "reading parquet file failed")
	}
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "file is not valid parquet")
	}
	ar, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "parquet arrow reader failed")
	}
	rr, err := ar.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "parquet record reader failed")
	}

	var batch arrow.Record
	row := 0
	return func() (model.Record, error) {
		for batch == nil || row >= int(batch.NumRows()) {
			if batch != nil {
				batch.Release()
				batch = nil
			}
			if !rr.Next() {
				_ = pf.Close()
				return model.Record{}, io.EOF
			}
			batch = rr.Record()
			batch.Retain()
			row = 0
		}

		data := make(map[string]interface{}, int(batch.NumCols()))
		for i := 0; i < int(batch.NumCols()); i++ {
			data[batch.Schema().Field(i).Name] = arrowValue(batch.Column(i), row)
		}
		row++
		return model.Record{Data: data}, nil
	}, nil
}

func arrowValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(row)
	case *array.Int32:
		return int64(c.Value(row))
	case *array.Int64:
		return c.Value(row)
	case *array.Float32:
		return float64(c.Value(row))
	case *array.Float64:
		return c.Value(row)
	case *array.String:
		return c.Value(row)
	case *array.Binary:
		return string(c.Value(row))
	case *array.Timestamp:
		return time.Unix(0, int64(c.Value(row))).UTC().Format(time.RFC3339Nano)
	case *array.Date32:
		return c.Value(row).ToTime().Format("2006-01-02")
	default:
		return col.ValueStr(row)
	}
}
