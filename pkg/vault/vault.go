// Package vault stores pipeline credentials outside the pipeline record.
// Pipelines carry only a credential reference; the secret material lives
// behind the Vault interface.
package vault

import (
	"context"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// Credentials is the secret material for one pipeline, keyed by the
// provider's credential field names.
type Credentials map[string]string

// Vault stores and resolves credentials by reference.
type Vault interface {
	// Store persists credentials and returns an opaque reference.
	// The engine treats Store as the first half of an atomic pipeline
	// save: if the subsequent pipeline write fails, Revoke is called.
	Store(ctx context.Context, pipelineID string, creds Credentials) (string, error)

	// Resolve returns the credentials for a reference. An unknown or
	// revoked reference yields an ErrorTypeCredential error.
	Resolve(ctx context.Context, reference string) (Credentials, error)

	// Revoke permanently removes the credentials behind a reference.
	// Revoking an unknown reference is a no-op.
	Revoke(ctx context.Context, reference string) error

	// Close releases vault resources.
	Close() error
}

// ErrNotFound builds the canonical unresolvable-reference error.
func ErrNotFound(reference string) error {
	return errors.Newf(errors.ErrorTypeCredential, "credential reference %q cannot be resolved", reference)
}
