// Package target writes mapped, validated batches into the analytics
// store's target tables.
package target

import (
	"context"

	"github.com/pinotpulse/ingest/pkg/model"
)

// Writer lands a batch into a target table. Write must be atomic at the
// batch level: it either accepts the whole batch or returns an error and
// writes nothing.
type Writer interface {
	Write(ctx context.Context, table string, records []model.Record) error
	Close() error
}
