// Package securecache wraps a httpcaching.Store with SHA-256 key hashing
// and optional AES-256-GCM encryption of the stored values. Hashing keeps
// request URLs out of the backend; encryption keeps response bodies out of
// it too.
package securecache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sandrolain/httpcaching"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
	nonceSize = 12
)

// Config holds the settings for creating a secure store.
type Config struct {
	// Store is the wrapped backend. Required.
	Store httpcaching.Store

	// Passphrase enables AES-256-GCM encryption of stored values. Empty
	// means keys are hashed but values stay in the clear. Must stay the
	// same across restarts or previously stored values become
	// unreadable.
	Passphrase string
}

// Store hashes keys and optionally encrypts values before they reach the
// wrapped Store.
type Store struct {
	store httpcaching.Store
	gcm   cipher.AEAD
}

// New returns a secure Store around config.Store.
func New(config Config) (*Store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	s := &Store{store: config.Store}

	if config.Passphrase != "" {
		gcm, err := newGCM(config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
		s.gcm = gcm
	}

	return s, nil
}

func newGCM(passphrase string) (cipher.AEAD, error) {
	// Fixed salt keeps the derived key stable across restarts.
	salt := sha256.Sum256([]byte("httpcaching-securecache-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return cipher.NewGCM(block)
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (s *Store) encrypt(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}

	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Get returns the decrypted value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.store.Get(ctx, hashKey(key))
	if err != nil || !ok {
		return nil, false, err
	}

	value, err := s.decrypt(data)
	if err != nil {
		return nil, false, fmt.Errorf("securecache get %q: %w", key, err)
	}
	return value, true, nil
}

// Set encrypts value and writes it under the hashed key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	data, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("securecache set %q: %w", key, err)
	}
	return s.store.Set(ctx, hashKey(key), data)
}

// Delete removes the value stored for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, hashKey(key))
}

var _ httpcaching.Store = (*Store)(nil)
