// Package mongodb implements a httpcaching.Store on a MongoDB collection
// using the official mongo-driver. Entries carry a createdAt field so an
// optional TTL index can expire them server-side.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sandrolain/httpcaching"
)

// Config holds the settings for creating a MongoDB store.
type Config struct {
	// URI is the MongoDB connection URI, e.g. "mongodb://localhost:27017".
	// Required.
	URI string

	// Database holding the cache collection. Required.
	Database string

	// Collection name. Defaults to "httpcaching".
	Collection string

	// KeyPrefix prepended to all cache keys. Defaults to "cache:".
	KeyPrefix string

	// Timeout bounds individual database operations. Defaults to 5 seconds.
	Timeout time.Duration

	// TTL, when positive, installs a TTL index on createdAt so MongoDB
	// expires entries on its own.
	TTL time.Duration

	// ClientOptions are extra options passed to mongo.Connect.
	ClientOptions *options.ClientOptions
}

type storedEntry struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Store keeps cache entries as documents keyed by _id.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	keyPrefix  string
	timeout    time.Duration
}

func (s *Store) storeKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var entry storedEntry
	err := s.collection.FindOne(ctx, bson.M{"_id": s.storeKey(key)}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongodb get %q: %w", key, err)
	}
	return entry.Data, true, nil
}

// Set upserts the value for key, refreshing createdAt for the TTL index.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	entry := storedEntry{
		Key:       s.storeKey(key),
		Data:      value,
		CreatedAt: time.Now(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": entry.Key}, entry, opts); err != nil {
		return fmt.Errorf("mongodb set %q: %w", key, err)
	}
	return nil
}

// Delete removes the value stored for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": s.storeKey(key)}); err != nil {
		return fmt.Errorf("mongodb delete %q: %w", key, err)
	}
	return nil
}

// Close disconnects from MongoDB. It is a no-op for stores built with
// NewWithClient, whose client the caller owns.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// DefaultConfig returns a Config with the collection, prefix and timeout
// defaults filled in.
func DefaultConfig() Config {
	return Config{
		Collection: "httpcaching",
		KeyPrefix:  "cache:",
		Timeout:    5 * time.Second,
	}
}

// New connects to MongoDB per config and returns a Store. The connection is
// verified with a ping; callers should Close the store when done.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("MongoDB URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if config.Collection == "" {
		config.Collection = DefaultConfig().Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientOptions != nil {
		clientOpts = config.ClientOptions.ApplyURI(config.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, config.Timeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}

	if config.TTL > 0 {
		if err := s.createTTLIndex(ctx, config.TTL); err != nil {
			_ = client.Disconnect(ctx) //nolint:errcheck // best effort cleanup
			return nil, fmt.Errorf("failed to create TTL index: %w", err)
		}
	}
	return s, nil
}

// NewWithClient returns a Store using an existing MongoDB client. The caller
// keeps ownership of the client; Close on the returned store is a no-op.
func NewWithClient(client *mongo.Client, database, collection string, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("MongoDB client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if collection == "" {
		collection = DefaultConfig().Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Store{
		collection: client.Database(database).Collection(collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}, nil
}

func (s *Store) createTTLIndex(ctx context.Context, ttl time.Duration) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(int32(ttl.Seconds())).
			SetName("httpcaching_ttl"),
	}

	indexCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.collection.Indexes().CreateOne(indexCtx, indexModel)
	return err
}

var _ httpcaching.Store = (*Store)(nil)
