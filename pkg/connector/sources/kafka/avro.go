package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/pinotpulse/ingest/pkg/clients"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
)

// avroDecoder decodes Confluent wire-format Avro messages, resolving
// writer schemas from the schema registry and caching codecs by id.
type avroDecoder struct {
	registryURL string
	client      *clients.HTTPClient

	mu     sync.RWMutex
	codecs map[int32]*goavro.Codec
}

func newAvroDecoder(registryURL string) *avroDecoder {
	return &avroDecoder{
		registryURL: registryURL,
		client:      clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger.Get()),
		codecs:      make(map[int32]*goavro.Codec),
	}
}

// Decode strips the 5-byte wire header (magic byte + schema id) and
// decodes the payload with the writer schema.
func (d *avroDecoder) Decode(ctx context.Context, payload []byte) (map[string]interface{}, error) {
	if len(payload) < 5 || payload[0] != 0 {
		return nil, errors.New(errors.ErrorTypeData, "message is not wire-format avro")
	}
	schemaID := int32(binary.BigEndian.Uint32(payload[1:5]))

	codec, err := d.codec(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	native, _, err := codec.NativeFromBinary(payload[5:])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "avro decode failed")
	}
	data, ok := native.(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ErrorTypeData, "avro payload is not a record")
	}
	return data, nil
}

func (d *avroDecoder) codec(ctx context.Context, schemaID int32) (*goavro.Codec, error) {
	d.mu.RLock()
	codec, ok := d.codecs[schemaID]
	d.mu.RUnlock()
	if ok {
		return codec, nil
	}

	var resp struct {
		Schema string `json:"schema"`
	}
	url := fmt.Sprintf("%s/schemas/ids/%d", d.registryURL, schemaID)
	if err := d.client.GetJSON(ctx, url, nil, &resp); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "schema registry lookup failed")
	}
	codec, err := goavro.NewCodec(resp.Schema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "registry returned invalid schema")
	}

	d.mu.Lock()
	d.codecs[schemaID] = codec
	d.mu.Unlock()
	return codec, nil
}
