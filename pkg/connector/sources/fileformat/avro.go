package fileformat

import (
	"io"

	"github.com/linkedin/goavro/v2"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// avroNext streams records out of an Avro object container file.
func (fr *Reader) avroNext(r io.Reader) (func() (model.Record, error), error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "file is not a valid avro container")
	}

	return func() (model.Record, error) {
		if !ocf.Scan() {
			if err := ocf.Err(); err != nil {
				return model.Record{}, errors.Wrap(err, errors.ErrorTypeData, "avro read failed")
			}
			return model.Record{}, io.EOF
		}
		native, err := ocf.Read()
		if err != nil {
			return model.Record{}, errors.Wrap(err, errors.ErrorTypeData, "avro decode failed")
		}
		data, ok := native.(map[string]interface{})
		if !ok {
			return model.Record{}, errors.New(errors.ErrorTypeData, "avro row is not a record")
		}
		return model.Record{Data: data}, nil
	}, nil
}
