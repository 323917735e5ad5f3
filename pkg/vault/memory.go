package vault

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryVault is an in-process vault for tests and development.
type MemoryVault struct {
	mu      sync.RWMutex
	entries map[string]Credentials

	// FailStore forces the next Store call to fail, for exercising the
	// save rollback path in tests.
	FailStore error
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{entries: make(map[string]Credentials)}
}

// Store keeps a copy of the credentials in memory.
func (v *MemoryVault) Store(_ context.Context, pipelineID string, creds Credentials) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.FailStore != nil {
		err := v.FailStore
		v.FailStore = nil
		return "", err
	}
	reference := "vault:" + pipelineID + ":" + uuid.NewString()
	cp := make(Credentials, len(creds))
	for k, val := range creds {
		cp[k] = val
	}
	v.entries[reference] = cp
	return reference, nil
}

// Resolve returns a copy of the stored credentials.
func (v *MemoryVault) Resolve(_ context.Context, reference string) (Credentials, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	creds, ok := v.entries[reference]
	if !ok {
		return nil, ErrNotFound(reference)
	}
	cp := make(Credentials, len(creds))
	for k, val := range creds {
		cp[k] = val
	}
	return cp, nil
}

// Revoke drops a reference.
func (v *MemoryVault) Revoke(_ context.Context, reference string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, reference)
	return nil
}

// Close is a no-op.
func (v *MemoryVault) Close() error { return nil }

// Len reports the number of stored credential sets.
func (v *MemoryVault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}
