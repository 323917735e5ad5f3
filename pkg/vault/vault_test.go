package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/pkg/errors"
)

const testKeyHex = "0f1e2d3c4b5a69788796a5b4c3d2e1f00112233445566778899aabbccddeeff0"

func TestFileVaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := NewFileVault(path, testKeyHex)
	require.NoError(t, err)

	creds := Credentials{"username": "ingest", "password": "s3cret"}
	ref, err := v.Store(context.Background(), "pipe-1", creds)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "vault:pipe-1:"))

	got, err := v.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	// The file on disk must never hold the plaintext secret.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")
	assert.NotContains(t, string(raw), "ingest")
}

func TestFileVaultSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := NewFileVault(path, testKeyHex)
	require.NoError(t, err)
	ref, err := v.Store(context.Background(), "pipe-1", Credentials{"token": "abc"})
	require.NoError(t, err)
	require.NoError(t, v.Close())

	reopened, err := NewFileVault(path, testKeyHex)
	require.NoError(t, err)
	got, err := reopened.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "abc", got["token"])
}

func TestFileVaultWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := NewFileVault(path, testKeyHex)
	require.NoError(t, err)
	ref, err := v.Store(context.Background(), "pipe-1", Credentials{"token": "abc"})
	require.NoError(t, err)

	otherKey := strings.Repeat("ab", 32)
	other, err := NewFileVault(path, otherKey)
	require.NoError(t, err)
	_, err = other.Resolve(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))
}

func TestFileVaultRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	v, err := NewFileVault(path, testKeyHex)
	require.NoError(t, err)
	ref, err := v.Store(context.Background(), "pipe-1", Credentials{"token": "abc"})
	require.NoError(t, err)

	require.NoError(t, v.Revoke(context.Background(), ref))
	_, err = v.Resolve(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))

	// Revoking again is a no-op.
	assert.NoError(t, v.Revoke(context.Background(), ref))
}

func TestFileVaultRejectsBadKey(t *testing.T) {
	_, err := NewFileVault(filepath.Join(t.TempDir(), "v.json"), "not-hex")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewFileVault(filepath.Join(t.TempDir(), "v.json"), "abcd")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestMemoryVaultIsolation(t *testing.T) {
	v := NewMemoryVault()
	creds := Credentials{"api_key": "k"}
	ref, err := v.Store(context.Background(), "pipe-1", creds)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Len())

	// Mutating the caller's map must not leak into the vault.
	creds["api_key"] = "changed"
	got, err := v.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "k", got["api_key"])

	require.NoError(t, v.Revoke(context.Background(), ref))
	assert.Equal(t, 0, v.Len())
	_, err = v.Resolve(context.Background(), ref)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))
}

func TestMemoryVaultFailStoreOnce(t *testing.T) {
	v := NewMemoryVault()
	v.FailStore = errors.New(errors.ErrorTypeInternal, "boom")

	_, err := v.Store(context.Background(), "pipe-1", Credentials{"x": "y"})
	require.Error(t, err)
	assert.Equal(t, 0, v.Len())

	_, err = v.Store(context.Background(), "pipe-1", Credentials{"x": "y"})
	assert.NoError(t, err)
}
