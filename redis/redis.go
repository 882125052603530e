// Package redis implements a httpcaching.Store on a Redis server using
// github.com/redis/go-redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandrolain/httpcaching"
)

// Config holds the connection settings for a Redis store.
type Config struct {
	// Address of the Redis server, e.g. "localhost:6379". Required.
	Address string

	// Password for authentication. Empty disables auth.
	Password string

	// DB is the Redis database number. Defaults to 0.
	DB int

	// TTL is the expiry applied to every stored entry. Zero means entries
	// never expire and rely on cache invalidation alone.
	TTL time.Duration

	// DialTimeout, ReadTimeout and WriteTimeout bound the corresponding
	// operations. Each defaults to 5 seconds when zero.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store keeps cache entries in Redis. Keys are prefixed to avoid colliding
// with other data in the same database.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

const keyPrefix = "httpcaching:"

func storeKey(key string) string {
	return keyPrefix + key
}

// Get returns the value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, storeKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return b, true, nil
}

// Set writes the value for key, applying the configured TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, storeKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, storeKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// New connects to Redis per config and returns a Store. The connection is
// verified with a PING before returning; callers should Close the store when
// done.
func New(config Config) (*Store, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // best effort cleanup after ping failure
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, ttl: config.TTL}, nil
}

// NewWithClient returns a Store using an existing go-redis client. The
// caller keeps ownership of the client's lifecycle.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

var _ httpcaching.Store = (*Store)(nil)
