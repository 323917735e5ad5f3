package target

import (
	"context"
	"sync"

	"github.com/pinotpulse/ingest/pkg/model"
)

// MemoryWriter collects batches in memory for tests and dry runs. It can
// be scripted to fail specific writes.
type MemoryWriter struct {
	mu      sync.Mutex
	tables  map[string][]model.Record
	batches []int

	// FailNext holds errors returned by upcoming Write calls, consumed
	// front to back. A nil entry means success.
	FailNext []error
}

// NewMemoryWriter creates an empty writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{tables: make(map[string][]model.Record)}
}

// Write appends the batch, honoring any scripted failure.
func (w *MemoryWriter) Write(_ context.Context, table string, records []model.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.FailNext) > 0 {
		err := w.FailNext[0]
		w.FailNext = w.FailNext[1:]
		if err != nil {
			return err
		}
	}
	w.tables[table] = append(w.tables[table], records...)
	w.batches = append(w.batches, len(records))
	return nil
}

// Close is a no-op.
func (w *MemoryWriter) Close() error { return nil }

// Records returns everything written to a table.
func (w *MemoryWriter) Records(table string) []model.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Record(nil), w.tables[table]...)
}

// BatchSizes returns the size of each accepted batch in order.
func (w *MemoryWriter) BatchSizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.batches...)
}
