// Package freecache implements a httpcaching.Store on
// github.com/coocood/freecache: a fixed-size in-memory cache with zero GC
// overhead and LRU eviction.
//
// This backend suits applications caching very many entries where GC
// pressure matters. Entries are evicted, not persisted; treat it as a
// best-effort cache tier.
package freecache

import (
	"context"
	"fmt"

	"github.com/coocood/freecache"
	"github.com/sandrolain/httpcaching"
)

// Store keeps cache entries in a freecache ring. Eviction is silent: a Set
// may push out older entries, and a Get after eviction is a plain miss.
type Store struct {
	cache *freecache.Cache
}

// New returns a Store of the given size in bytes. freecache enforces a
// 512KB minimum.
//
// For large sizes consider lowering debug.SetGCPercent to reduce GC
// overhead of the preallocated ring.
func New(size int) *Store {
	return &Store{
		cache: freecache.NewCache(size),
	}
}

// Get returns the value stored for key if present. Expired or evicted
// entries are misses.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := s.cache.Get([]byte(key))
	if err != nil {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores the value for key without expiry. Values larger than 1/1024 of
// the cache size cannot be stored and return an error.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if err := s.cache.Set([]byte(key), value, 0); err != nil {
		return fmt.Errorf("freecache set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.cache.Clear()
}

// EntryCount returns the number of entries currently stored.
func (s *Store) EntryCount() int64 {
	return s.cache.EntryCount()
}

// HitRate returns the ratio of hits to total lookups.
func (s *Store) HitRate() float64 {
	return s.cache.HitRate()
}

// EvacuateCount returns how many entries were evicted to make room.
func (s *Store) EvacuateCount() int64 {
	return s.cache.EvacuateCount()
}

var _ httpcaching.Store = (*Store)(nil)
