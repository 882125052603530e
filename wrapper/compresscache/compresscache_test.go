package compresscache

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sandrolain/httpcaching"
	"github.com/sandrolain/httpcaching/test"
)

func newStore(t *testing.T, algo Algorithm) *Store {
	t.Helper()

	store, err := New(Config{
		Store:     httpcaching.NewMemoryStore(),
		Algorithm: algo,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestCompressStoreConformance(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Brotli, Snappy} {
		t.Run(algo.String(), func(t *testing.T) {
			test.Store(t, newStore(t, algo))
		})
	}
}

func TestCompressionReducesSize(t *testing.T) {
	backend := httpcaching.NewMemoryStore()
	store, err := New(Config{Store: backend, Algorithm: Gzip})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	value := []byte(strings.Repeat("compress me please ", 500))

	if err := store.Set(ctx, "key", value); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	raw, ok, err := backend.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("backend get failed: ok=%v err=%v", ok, err)
	}
	if len(raw) >= len(value) {
		t.Errorf("stored %d bytes, want fewer than the %d uncompressed", len(raw), len(value))
	}

	got, ok, err := store.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, value) {
		t.Error("roundtrip value mismatch")
	}
}

func TestCrossAlgorithmRead(t *testing.T) {
	backend := httpcaching.NewMemoryStore()
	ctx := context.Background()
	value := []byte(strings.Repeat("shared payload ", 100))

	writer, err := New(Config{Store: backend, Algorithm: Brotli})
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if err := writer.Set(ctx, "key", value); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	reader, err := New(Config{Store: backend, Algorithm: Snappy})
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}
	got, ok, err := reader.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, value) {
		t.Error("cross-algorithm roundtrip mismatch")
	}
}

func TestStats(t *testing.T) {
	store := newStore(t, Snappy)
	ctx := context.Background()

	value := []byte(strings.Repeat("stats ", 200))
	if err := store.Set(ctx, "a", value); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "b", value); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	stats := store.Stats()
	if stats.CompressedCount != 2 {
		t.Errorf("CompressedCount = %d, want 2", stats.CompressedCount)
	}
	if stats.UncompressedBytes != int64(2*len(value)) {
		t.Errorf("UncompressedBytes = %d, want %d", stats.UncompressedBytes, 2*len(value))
	}
	if stats.CompressionRatio <= 0 || stats.CompressionRatio >= 1 {
		t.Errorf("CompressionRatio = %f, want between 0 and 1", stats.CompressionRatio)
	}
}

func TestNewRejectsNilStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for a nil store")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Store: httpcaching.NewMemoryStore(), Algorithm: Gzip, Level: 42}); err == nil {
		t.Fatal("expected an error for an invalid gzip level")
	}
}
