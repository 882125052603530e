// Package postgresql implements a httpcaching.Store on PostgreSQL using
// jackc/pgx. Entries live in a single table with the key as primary key.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandrolain/httpcaching"
)

var (
	// ErrNilPool is returned when a nil pool is provided.
	ErrNilPool = errors.New("postgresql: pool cannot be nil")
	// ErrNilConn is returned when a nil connection is provided.
	ErrNilConn = errors.New("postgresql: connection cannot be nil")
)

const (
	// DefaultTableName is the table used when none is configured.
	DefaultTableName = "httpcaching"
	// DefaultKeyPrefix is prepended to every cache key.
	DefaultKeyPrefix = "cache:"
)

// Config holds the settings for a PostgreSQL store.
type Config struct {
	// TableName storing cache entries. Default: "httpcaching".
	TableName string
	// KeyPrefix prepended to all cache keys. Default: "cache:".
	KeyPrefix string
	// Timeout bounds individual database operations. Default: 5s.
	Timeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TableName: DefaultTableName,
		KeyPrefix: DefaultKeyPrefix,
		Timeout:   5 * time.Second,
	}
}

// Store keeps cache entries in a PostgreSQL table, through either a pgxpool
// or a single connection.
type Store struct {
	pool      *pgxpool.Pool
	conn      *pgx.Conn
	tableName string
	keyPrefix string
	timeout   time.Duration
}

func (s *Store) storeKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	var err error
	if s.pool != nil {
		_, err = s.pool.Exec(ctx, query, args...)
	} else {
		_, err = s.conn.Exec(ctx, query, args...)
	}
	return err
}

// Get returns the value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT data FROM ` + s.tableName + ` WHERE key = $1`

	var data []byte
	var err error
	if s.pool != nil {
		err = s.pool.QueryRow(ctx, query, s.storeKey(key)).Scan(&data)
	} else {
		err = s.conn.QueryRow(ctx, query, s.storeKey(key)).Scan(&data)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgresql get %q: %w", key, err)
	}
	return data, true, nil
}

// Set upserts the value for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO ` + s.tableName + ` (key, data, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = $2, created_at = $3
	`
	if err := s.exec(ctx, query, s.storeKey(key), value, time.Now()); err != nil {
		return fmt.Errorf("postgresql set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `DELETE FROM ` + s.tableName + ` WHERE key = $1`
	if err := s.exec(ctx, query, s.storeKey(key)); err != nil {
		return fmt.Errorf("postgresql delete %q: %w", key, err)
	}
	return nil
}

// CreateTable creates the cache table if it does not exist.
func (s *Store) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`
	return s.exec(ctx, query)
}

// Close releases the pool or connection.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		return nil
	}
	if s.conn != nil {
		return s.conn.Close(context.Background())
	}
	return nil
}

// NewWithPool returns a Store using the provided connection pool.
func NewWithPool(pool *pgxpool.Pool, config *Config) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{
		pool:      pool,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
	}, nil
}

// NewWithConn returns a Store using a single connection.
func NewWithConn(conn *pgx.Conn, config *Config) (*Store, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{
		conn:      conn,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
	}, nil
}

// New opens a connection pool for connString, ensures the cache table
// exists, and returns a Store.
func New(ctx context.Context, connString string, config *Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}

	s := &Store{
		pool:      pool,
		tableName: config.TableName,
		keyPrefix: config.KeyPrefix,
		timeout:   config.Timeout,
	}
	if err := s.CreateTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

var _ httpcaching.Store = (*Store)(nil)
