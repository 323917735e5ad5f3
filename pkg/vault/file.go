package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// FileVault is an encrypted-at-rest vault backed by a single JSON file.
// Each credential set is sealed with AES-256-GCM under a key supplied by
// the operator; the file never contains plaintext secrets.
type FileVault struct {
	mu   sync.Mutex
	path string
	gcm  cipher.AEAD

	// reference -> hex(nonce||ciphertext)
	entries map[string]string
}

// NewFileVault opens or creates a file vault. keyHex must decode to a
// 32-byte AES key.
func NewFileVault(path, keyHex string) (*FileVault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, errors.New(errors.ErrorTypeConfig, "vault key must be 32 bytes, hex encoded")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to initialize vault cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to initialize vault cipher")
	}

	v := &FileVault{
		path:    path,
		gcm:     gcm,
		entries: make(map[string]string),
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *FileVault) load() error {
	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to read vault file")
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &v.entries); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "vault file is corrupt")
	}
	return nil
}

// flush writes entries to disk via rename for crash consistency.
func (v *FileVault) flush() error {
	data, err := json.Marshal(v.entries)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal vault")
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write vault file")
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write vault file")
	}
	return nil
}

// Store seals and persists credentials, returning a new reference.
func (v *FileVault) Store(_ context.Context, pipelineID string, creds Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal credentials")
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to generate nonce")
	}
	sealed := v.gcm.Seal(nonce, nonce, plaintext, []byte(pipelineID))

	reference := "vault:" + pipelineID + ":" + uuid.NewString()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[reference] = hex.EncodeToString(sealed)
	if err := v.flush(); err != nil {
		delete(v.entries, reference)
		return "", err
	}
	return reference, nil
}

// Resolve decrypts the credentials behind a reference.
func (v *FileVault) Resolve(_ context.Context, reference string) (Credentials, error) {
	v.mu.Lock()
	sealedHex, ok := v.entries[reference]
	v.mu.Unlock()
	if !ok {
		return nil, ErrNotFound(reference)
	}

	sealed, err := hex.DecodeString(sealedHex)
	if err != nil || len(sealed) < v.gcm.NonceSize() {
		return nil, errors.New(errors.ErrorTypeInternal, "vault entry is corrupt")
	}
	nonce, ciphertext := sealed[:v.gcm.NonceSize()], sealed[v.gcm.NonceSize():]

	pipelineID := pipelineIDFromReference(reference)
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, []byte(pipelineID))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "failed to unseal credentials")
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "vault entry is corrupt")
	}
	return creds, nil
}

// Revoke removes a reference. Unknown references are ignored.
func (v *FileVault) Revoke(_ context.Context, reference string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[reference]; !ok {
		return nil
	}
	delete(v.entries, reference)
	return v.flush()
}

// Close is a no-op for the file vault.
func (v *FileVault) Close() error { return nil }

func pipelineIDFromReference(reference string) string {
	// vault:<pipeline-id>:<uuid>
	const prefix = "vault:"
	if len(reference) <= len(prefix) {
		return ""
	}
	rest := reference[len(prefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return rest
}
