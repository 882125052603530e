// Package diskcache implements a httpcaching.Store on the diskv package,
// pairing an in-memory map with persistent on-disk storage.
package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/peterbourgon/diskv"
	"github.com/sandrolain/httpcaching"
)

// Store persists cache entries as files under a base path. Keys are hashed
// to produce safe filenames.
type Store struct {
	d *diskv.Diskv
}

// Get returns the value stored for key if present. A missing file is a miss,
// not an error.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.d.Read(keyToFilename(key))
	if err != nil {
		return nil, false, nil
	}
	return b, true, nil
}

// Set writes the value for key to disk.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	return s.d.WriteStream(keyToFilename(key), bytes.NewReader(value), true)
}

// Delete removes the value stored for key. Erasing a missing file is not an
// error.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.d.Erase(keyToFilename(key)); err != nil {
		return nil
	}
	return nil
}

func keyToFilename(key string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, key) //nolint:errcheck // hash writes never fail
	return hex.EncodeToString(h.Sum(nil))
}

// New returns a Store keeping its files under basePath, with an in-memory
// read cache of up to 100MB.
func New(basePath string) *Store {
	return &Store{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			CacheSizeMax: 100 * 1024 * 1024,
		}),
	}
}

// NewWithDiskv returns a Store using the provided Diskv instance.
func NewWithDiskv(d *diskv.Diskv) *Store {
	return &Store{d}
}

var _ httpcaching.Store = (*Store)(nil)
