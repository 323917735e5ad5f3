package target

import (
	"fmt"

	"context"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/clients"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
)

// PinotWriter posts batches to the analytics ingestion endpoint, one JSON
// document per batch.
type PinotWriter struct {
	baseURL string
	client  *clients.HTTPClient
	logger  *zap.Logger
}

// NewPinotWriter builds a writer against the given controller base URL.
func NewPinotWriter(baseURL string, client *clients.HTTPClient, logger *zap.Logger) *PinotWriter {
	return &PinotWriter{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With(zap.String("component", "pinot_writer")),
	}
}

type ingestRequest struct {
	Table   string                   `json:"table"`
	Records []map[string]interface{} `json:"records"`
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Write posts the batch. A partial accept counts as failure so the
// executor's retry path treats the batch as a unit.
func (w *PinotWriter) Write(ctx context.Context, table string, records []model.Record) error {
	req := ingestRequest{Table: table, Records: make([]map[string]interface{}, 0, len(records))}
	for _, r := range records {
		req.Records = append(req.Records, r.Data)
	}

	var resp ingestResponse
	url := fmt.Sprintf("%s/ingest/v1/tables/%s/batch", w.baseURL, table)
	if err := w.client.PostJSON(ctx, url, nil, req, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.Newf(errors.ErrorTypeData, "target rejected batch: %s", resp.Error)
	}
	if resp.Accepted != len(records) {
		return errors.Newf(errors.ErrorTypeData,
			"target accepted %d of %d records", resp.Accepted, len(records))
	}
	return nil
}

// Close releases the HTTP client.
func (w *PinotWriter) Close() error {
	w.client.Close()
	return nil
}
