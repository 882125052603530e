// Package test provides a conformance suite for httpcaching.Store
// implementations. Backend packages call Store from their tests to verify
// the byte-level contract.
package test

import (
	"bytes"
	"context"
	"testing"

	"github.com/sandrolain/httpcaching"
)

// Store exercises a httpcaching.Store implementation: miss before write,
// roundtrip, overwrite, and delete semantics.
func Store(t *testing.T, store httpcaching.Store) {
	t.Helper()
	ctx := context.Background()
	key := "testKey"

	_, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("retrieved key before adding it")
	}

	val := []byte("some bytes")
	if err := store.Set(ctx, key, val); err != nil {
		t.Fatalf("error setting key: %v", err)
	}

	got, ok, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if !ok {
		t.Fatal("could not retrieve an element we just added")
	}
	if !bytes.Equal(got, val) {
		t.Fatal("retrieved a different value than what we put in")
	}

	newVal := []byte("other bytes")
	if err := store.Set(ctx, key, newVal); err != nil {
		t.Fatalf("error overwriting key: %v", err)
	}
	got, ok, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting overwritten key: %v", err)
	}
	if !ok {
		t.Fatal("overwritten key missing")
	}
	if !bytes.Equal(got, newVal) {
		t.Fatal("overwrite did not replace the stored value")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("error deleting key: %v", err)
	}

	_, ok, err = store.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("deleted key still present")
	}

	// Deleting a missing key must not fail.
	if err := store.Delete(ctx, "never-stored"); err != nil {
		t.Fatalf("error deleting missing key: %v", err)
	}
}
