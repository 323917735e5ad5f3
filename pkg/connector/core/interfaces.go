// Package core defines the source connector contract every provider
// adapter implements.
package core

import (
	"context"

	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/vault"
)

// OpenParams carries everything an adapter needs to reach its provider.
// Config has already been validated against the provider schema and had
// defaults applied.
type OpenParams struct {
	PipelineID  string
	Config      map[string]interface{}
	Credentials vault.Credentials

	// Watermark is the persisted incremental position from the previous
	// run, empty on first run. Batch adapters substitute it into their
	// extraction query or listing filter.
	Watermark string
}

// Source is a provider adapter. The executor drives it pull-style:
// Open, repeated Fetch, Checkpoint after each committed batch, Close.
type Source interface {
	// Open establishes the provider connection. It must not fetch data.
	Open(ctx context.Context, params OpenParams) error

	// Fetch returns up to max records. done=true signals the pass is
	// complete; streaming sources never report done and instead block
	// until records arrive or ctx is cancelled. A fetch returning zero
	// records with done=false is legal and means "nothing yet".
	Fetch(ctx context.Context, max int) (records []model.Record, done bool, err error)

	// Checkpoint persists source progress after a committed batch and
	// returns the new watermark value ("" if the source has none).
	Checkpoint(ctx context.Context) (string, error)

	// Close releases the connection. Safe to call after a failed Open.
	Close(ctx context.Context) error
}

// Tester verifies reachability and auth without starting ingestion.
// Failures must be categorized via pkg/errors so the console can say
// whether the problem is auth, network, timeout, or schema.
type Tester interface {
	Test(ctx context.Context, params OpenParams) error
}

// SourceTester combines the two; every built-in adapter satisfies it.
type SourceTester interface {
	Source
	Tester
}
