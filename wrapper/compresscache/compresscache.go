// Package compresscache wraps a httpcaching.Store with transparent
// compression. Gzip, brotli and snappy are supported; stored values carry
// a one-byte algorithm marker so a store written with one algorithm can
// still be read with another.
package compresscache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sandrolain/httpcaching"
)

// Algorithm selects the compression used for new writes.
type Algorithm int

const (
	// Gzip balances ratio and speed.
	Gzip Algorithm = iota
	// Brotli compresses best but is the slowest.
	Brotli
	// Snappy is the fastest with the lowest ratio.
	Snappy
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// codec compresses and decompresses values for one algorithm.
type codec interface {
	compress(data []byte) ([]byte, error)
	decompress(data []byte) ([]byte, error)
}

// Stats reports the cumulative effect of compression on stored values.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
	CompressionRatio  float64
	SavingsPercent    float64
}

// Config holds the settings for creating a compressing store.
type Config struct {
	// Store is the wrapped backend. Required.
	Store httpcaching.Store

	// Algorithm used for new writes. The zero value is Gzip.
	Algorithm Algorithm

	// Level is the compression level for gzip (-2 to 9) and brotli
	// (0 to 11). Zero means the algorithm's default. Snappy ignores it.
	Level int
}

// Store compresses values before handing them to the wrapped Store and
// decompresses them on the way back.
type Store struct {
	store httpcaching.Store
	algo  Algorithm
	codec codec

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

// New returns a compressing Store around config.Store.
func New(config Config) (*Store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	c, err := newCodec(config.Algorithm, config.Level)
	if err != nil {
		return nil, err
	}

	return &Store{
		store: config.Store,
		algo:  config.Algorithm,
		codec: c,
	}, nil
}

func newCodec(algo Algorithm, level int) (codec, error) {
	switch algo {
	case Gzip:
		return newGzipCodec(level)
	case Brotli:
		return newBrotliCodec(level)
	case Snappy:
		return snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %v", algo)
	}
}

// Get returns the value stored for key, decompressed according to the
// marker byte the value was written with.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(data) == 0 {
		return data, true, nil
	}

	marker := data[0]
	if marker == 0 {
		return data[1:], true, nil
	}

	storedAlgo := Algorithm(marker - 1)
	c := s.codec
	if storedAlgo != s.algo {
		var err error
		c, err = newCodec(storedAlgo, 0)
		if err != nil {
			return nil, false, fmt.Errorf("compresscache get %q: %w", key, err)
		}
	}

	value, err := c.decompress(data[1:])
	if err != nil {
		return nil, false, fmt.Errorf("compresscache get %q: %w", key, err)
	}
	return value, true, nil
}

// Set compresses value and writes it to the wrapped store. When
// compression fails the value is stored uncompressed.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	compressed, err := s.codec.compress(value)
	if err != nil {
		data := make([]byte, len(value)+1)
		copy(data[1:], value)
		if err := s.store.Set(ctx, key, data); err != nil {
			return err
		}
		s.uncompressedCount.Add(1)
		s.uncompressedBytes.Add(int64(len(value)))
		return nil
	}

	data := make([]byte, len(compressed)+1)
	data[0] = byte(s.algo + 1)
	copy(data[1:], compressed)

	if err := s.store.Set(ctx, key, data); err != nil {
		return err
	}
	s.compressedCount.Add(1)
	s.compressedBytes.Add(int64(len(compressed)))
	s.uncompressedBytes.Add(int64(len(value)))
	return nil
}

// Delete removes the value stored for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// Stats returns cumulative compression statistics for this store.
func (s *Store) Stats() Stats {
	compressed := s.compressedBytes.Load()
	uncompressed := s.uncompressedBytes.Load()

	var ratio, savings float64
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
		savings = (1.0 - ratio) * 100
	}

	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   s.compressedCount.Load(),
		UncompressedCount: s.uncompressedCount.Load(),
		CompressionRatio:  ratio,
		SavingsPercent:    savings,
	}
}

var _ httpcaching.Store = (*Store)(nil)
