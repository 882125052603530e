// Package multicache implements a tiered httpcaching.Store that cascades
// through several backends, ordered from fastest to slowest. Reads search
// the tiers in order and promote hits to the faster tiers; writes and
// deletes go to every tier.
package multicache

import (
	"context"
	"fmt"

	"github.com/sandrolain/httpcaching"
)

// Store fans cache operations out over an ordered list of tiers, e.g. an
// in-memory store in front of Redis in front of PostgreSQL. Hot entries
// migrate to the faster tiers on their own.
type Store struct {
	tiers []httpcaching.Store
}

// New returns a tiered Store. Tiers go from fastest to slowest; at least
// one is required and none may be nil or repeated.
func New(tiers ...httpcaching.Store) (*Store, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one tier is required")
	}

	seen := make(map[httpcaching.Store]bool, len(tiers))
	for i, tier := range tiers {
		if tier == nil {
			return nil, fmt.Errorf("tier %d is nil", i)
		}
		if seen[tier] {
			return nil, fmt.Errorf("tier %d appears more than once", i)
		}
		seen[tier] = true
	}

	return &Store{tiers: tiers}, nil
}

// Get searches the tiers in order and returns the first hit. The hit is
// promoted to every faster tier; promotion failures are ignored since the
// value was already found.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	for i, tier := range s.tiers {
		value, ok, err := tier.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			for j := 0; j < i; j++ {
				_ = s.tiers[j].Set(ctx, key, value)
			}
			return value, true, nil
		}
	}
	return nil, false, nil
}

// Set writes the value to every tier.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	for _, tier := range s.tiers {
		if err := tier.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the value from every tier.
func (s *Store) Delete(ctx context.Context, key string) error {
	for _, tier := range s.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

var _ httpcaching.Store = (*Store)(nil)
