// Package blobcache implements a httpcaching.Store on a Go CDK blob
// bucket, which makes it work against S3, Google Cloud Storage, Azure
// Blob Storage, the local filesystem and in-memory buckets.
//
// The caller registers the scheme it needs by importing the matching
// driver, e.g.
//
//	import _ "gocloud.dev/blob/s3blob"
//
// and then opens the store with a bucket URL:
//
//	store, err := blobcache.New(ctx, blobcache.Config{
//	    BucketURL: "s3://my-bucket?region=us-west-2",
//	})
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/sandrolain/httpcaching"
)

// DefaultKeyPrefix is prepended to blob keys when Config leaves it empty.
const DefaultKeyPrefix = "httpcaching/"

// DefaultTimeout bounds blob operations when the caller's context has no
// deadline of its own.
const DefaultTimeout = 30 * time.Second

// Config holds the settings for creating a blob store.
type Config struct {
	// BucketURL is the Go CDK bucket URL. Ignored when Bucket is set.
	BucketURL string

	// Bucket is an optional pre-opened bucket. The caller keeps
	// ownership and Close will not touch it.
	Bucket *blob.Bucket

	// KeyPrefix is prepended to every blob key. Empty means
	// DefaultKeyPrefix.
	KeyPrefix string

	// Timeout applied to operations whose context has no deadline.
	// Zero means DefaultTimeout.
	Timeout time.Duration
}

// Store keeps cache entries as blobs. Keys are hashed so that cache keys
// containing characters the provider rejects still map to valid blob names.
type Store struct {
	bucket     *blob.Bucket
	keyPrefix  string
	timeout    time.Duration
	ownsBucket bool
}

// New opens the configured bucket and returns a Store. Callers should
// Close the store when done.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.BucketURL == "" && config.Bucket == nil {
		return nil, fmt.Errorf("either BucketURL or Bucket must be provided")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	bucket := config.Bucket
	ownsBucket := false
	if bucket == nil {
		var err error
		bucket, err = blob.OpenBucket(ctx, config.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket: %w", err)
		}
		ownsBucket = true
	}

	return &Store{
		bucket:     bucket,
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
		ownsBucket: ownsBucket,
	}, nil
}

// NewWithBucket returns a Store using an already opened bucket. The caller
// keeps ownership of the bucket.
func NewWithBucket(bucket *blob.Bucket) *Store {
	return &Store{
		bucket:    bucket,
		keyPrefix: DefaultKeyPrefix,
		timeout:   DefaultTimeout,
	}
}

func (s *Store) blobKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return s.keyPrefix + hex.EncodeToString(hash[:])
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the value stored for key if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	reader, err := s.bucket.NewReader(ctx, s.blobKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobcache get %q: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("blobcache read %q: %w", key, err)
	}
	return data, true, nil
}

// Set writes the value for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	writer, err := s.bucket.NewWriter(ctx, s.blobKey(key), nil)
	if err != nil {
		return fmt.Errorf("blobcache set %q: %w", key, err)
	}

	_, writeErr := writer.Write(value)
	closeErr := writer.Close()
	if writeErr != nil {
		return fmt.Errorf("blobcache write %q: %w", key, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("blobcache write %q: %w", key, closeErr)
	}
	return nil
}

// Delete removes the value stored for key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, s.blobKey(key)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("blobcache delete %q: %w", key, err)
	}
	return nil
}

// Close closes the bucket when the store opened it. It is a no-op for
// stores built with NewWithBucket or a Config.Bucket.
func (s *Store) Close() error {
	if s.ownsBucket {
		if err := s.bucket.Close(); err != nil {
			return fmt.Errorf("failed to close blob bucket: %w", err)
		}
	}
	return nil
}

var _ httpcaching.Store = (*Store)(nil)
