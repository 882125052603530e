// Package memcache implements a httpcaching.Store on a memcached cluster
// using github.com/bradfitz/gomemcache.
package memcache

import (
	"context"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/sandrolain/httpcaching"
)

// Store keeps cache entries in memcached. Keys are hashed by gomemcache onto
// the configured servers; a prefix avoids collisions with other users of the
// cluster.
type Store struct {
	client *memcache.Client
}

const keyPrefix = "httpcaching:"

func storeKey(key string) string {
	return keyPrefix + key
}

// Get returns the value stored for key if present. memcached evictions and
// expiries surface as misses.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := s.client.Get(storeKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memcache get %q: %w", key, err)
	}
	return item.Value, true, nil
}

// Set writes the value for key without expiry.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	item := &memcache.Item{
		Key:   storeKey(key),
		Value: value,
	}
	if err := s.client.Set(item); err != nil {
		return fmt.Errorf("memcache set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key. Deleting a missing key is not an
// error.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.client.Delete(storeKey(key)); err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("memcache delete %q: %w", key, err)
	}
	return nil
}

// New returns a Store using the provided memcached server(s) with equal
// weight. Listing a server multiple times gives it proportional weight.
func New(server ...string) *Store {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a Store using an existing memcache client.
func NewWithClient(client *memcache.Client) *Store {
	return &Store{client}
}

var _ httpcaching.Store = (*Store)(nil)
