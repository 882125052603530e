// Package hazelcast implements a httpcaching.Store on a Hazelcast
// distributed map.
package hazelcast

import (
	"context"
	"fmt"

	"github.com/hazelcast/hazelcast-go-client"
	"github.com/sandrolain/httpcaching"
)

// DefaultMapName is the Hazelcast map used when none is configured.
const DefaultMapName = "httpcaching"

func storeKey(key string) string {
	return "httpcaching:" + key
}

// Store keeps cache entries in a Hazelcast map. Entries are shared with
// every other client connected to the same cluster.
type Store struct {
	m      *hazelcast.Map
	client *hazelcast.Client
}

// Get returns the value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.m.Get(ctx, storeKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("hazelcast get %q: %w", key, err)
	}
	if val == nil {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

// Set writes the value for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.m.Set(ctx, storeKey(key), value); err != nil {
		return fmt.Errorf("hazelcast set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.m.Remove(ctx, storeKey(key)); err != nil {
		return fmt.Errorf("hazelcast delete %q: %w", key, err)
	}
	return nil
}

// Close shuts down the Hazelcast client when the store created it. It is a
// no-op for stores built with NewWithMap.
func (s *Store) Close(ctx context.Context) error {
	if s.client != nil {
		return s.client.Shutdown(ctx)
	}
	return nil
}

// New starts a Hazelcast client with the given configuration and returns a
// Store backed by the named map. An empty mapName means DefaultMapName.
// Callers should Close the store when done.
func New(ctx context.Context, config hazelcast.Config, mapName string) (*Store, error) {
	if mapName == "" {
		mapName = DefaultMapName
	}

	client, err := hazelcast.StartNewClientWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start Hazelcast client: %w", err)
	}

	m, err := client.GetMap(ctx, mapName)
	if err != nil {
		_ = client.Shutdown(ctx)
		return nil, fmt.Errorf("failed to get Hazelcast map %q: %w", mapName, err)
	}

	return &Store{m: m, client: client}, nil
}

// NewWithMap returns a Store using an existing Hazelcast map. The caller
// keeps ownership of the client.
func NewWithMap(m *hazelcast.Map) *Store {
	return &Store{m: m}
}

var _ httpcaching.Store = (*Store)(nil)
