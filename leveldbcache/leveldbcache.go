// Package leveldbcache implements a httpcaching.Store on
// github.com/syndtr/goleveldb/leveldb.
package leveldbcache

import (
	"context"
	"fmt"

	"github.com/sandrolain/httpcaching"
	"github.com/syndtr/goleveldb/leveldb"
)

// Store keeps cache entries in a LevelDB database.
type Store struct {
	db *leveldb.DB
}

// Get returns the value stored for key if present.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("leveldb get %q: %w", key, err)
	}
	return b, true, nil
}

// Set writes the value for key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("leveldb set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb delete %q: %w", key, err)
	}
	return nil
}

// New opens (or creates) a LevelDB database at path and returns a Store
// backed by it.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB returns a Store using an already-open database.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db}
}

var _ httpcaching.Store = (*Store)(nil)
