// Package natskv implements a httpcaching.Store on a NATS JetStream
// Key/Value bucket.
package natskv

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sandrolain/httpcaching"
)

// Config holds the settings for creating a NATS K/V store.
type Config struct {
	// NATSUrl of the server, e.g. "nats://localhost:4222". Empty means
	// nats.DefaultURL.
	NATSUrl string

	// Bucket is the K/V bucket name. Required.
	Bucket string

	// Description attached to the bucket, optional.
	Description string

	// TTL for entries. Zero means entries never expire on their own.
	TTL time.Duration

	// NATSOptions are extra options passed to nats.Connect.
	NATSOptions []nats.Option
}

// Store keeps cache entries in a JetStream K/V bucket. Keys are prefixed
// with a dot-separated namespace since K/V keys cannot contain ':'.
type Store struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

func storeKey(key string) string {
	return "httpcaching." + key
}

// Get returns the value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, storeKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get %q: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set writes the value for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, storeKey(key), value); err != nil {
		return fmt.Errorf("natskv set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, storeKey(key)); err != nil && err != jetstream.ErrKeyNotFound {
		return fmt.Errorf("natskv delete %q: %w", key, err)
	}
	return nil
}

// Close closes the NATS connection when the store created it. It is a no-op
// for stores built with NewWithKeyValue.
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// New connects to NATS, creates or updates the configured K/V bucket and
// returns a Store. Callers should Close the store when done.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update K/V bucket: %w", err)
	}

	return &Store{kv: kv, nc: nc}, nil
}

// NewWithKeyValue returns a Store using an existing KeyValue bucket. The
// caller keeps ownership of the NATS connection.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

var _ httpcaching.Store = (*Store)(nil)
