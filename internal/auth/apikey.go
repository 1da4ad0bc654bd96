// ABOUTME: API key generation and verification with bcrypt-hashed storage
// ABOUTME: Keys carry an sgk_ display prefix and exchange for short-lived JWTs

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// keyPrefix identifies stream-gateway API keys in logs and config files.
const keyPrefix = "sgk_"

// ErrUnknownKey is returned when an API key does not match any principal
var ErrUnknownKey = errors.New("unknown API key")

// APIKeyStore holds bcrypt hashes of issued API keys, keyed by principal.
// Keys are issued out of band (CLI) and checked on the token-exchange
// endpoint; the plaintext is never stored.
type APIKeyStore struct {
	mu     sync.RWMutex
	hashes map[string][]byte // principalID -> bcrypt hash
}

// NewAPIKeyStore creates an empty API key store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{hashes: make(map[string][]byte)}
}

// GenerateKey mints a fresh API key and returns both the plaintext and its
// bcrypt hash. The hash goes into the config file; the plaintext is handed
// to the client and never stored.
func GenerateKey() (key, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating key material: %w", err)
	}
	key = keyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key: %w", err)
	}
	return key, string(h), nil
}

// Seed installs an existing bcrypt hash for a principal, used when loading
// keys from configuration.
func (s *APIKeyStore) Seed(principalID string, hash []byte) {
	s.mu.Lock()
	s.hashes[principalID] = hash
	s.mu.Unlock()
}

// Issue generates a new API key for the principal, replacing any existing
// one, and returns the plaintext key. The plaintext is shown once and only
// its hash is retained.
func (s *APIKeyStore) Issue(principalID string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	key := keyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}

	s.mu.Lock()
	s.hashes[principalID] = hash
	s.mu.Unlock()

	return key, nil
}

// Verify checks a plaintext key against the stored hash for the principal.
// Returns ErrUnknownKey if the principal has no key or the key doesn't match.
func (s *APIKeyStore) Verify(principalID, key string) error {
	if !strings.HasPrefix(key, keyPrefix) {
		return ErrUnknownKey
	}

	s.mu.RLock()
	hash, ok := s.hashes[principalID]
	s.mu.RUnlock()

	if !ok {
		return ErrUnknownKey
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
		return ErrUnknownKey
	}
	return nil
}

// Revoke removes the key for a principal. Revoking a principal without a key
// is a no-op.
func (s *APIKeyStore) Revoke(principalID string) {
	s.mu.Lock()
	delete(s.hashes, principalID)
	s.mu.Unlock()
}
