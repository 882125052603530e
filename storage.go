package httpcaching

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// UpdateFunc is the callback for atomic read-modify-write storage updates.
// It receives the current entry (nil when absent) and returns the
// replacement; returning nil removes the key. The storage guarantees the
// read and write happen under one critical section for the key.
type UpdateFunc func(existing *Entry) (*Entry, error)

// Storage is the narrow interface the cache core requires from a backend.
// A miss is reported as ok=false with a nil error; a non-nil error always
// means an I/O level failure, never "not found".
type Storage interface {
	GetEntry(ctx context.Context, key string) (*Entry, bool, error)
	PutEntry(ctx context.Context, key string, entry *Entry) error
	RemoveEntry(ctx context.Context, key string) error
	UpdateEntry(ctx context.Context, key string, fn UpdateFunc) error
}

// MemoryStorage is a Storage implementation over an in-memory map. All
// operations are safe for concurrent use; UpdateEntry holds the lock across
// the whole read-modify-write.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStorage returns an empty in-memory entry store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]*Entry)}
}

func (s *MemoryStorage) GetEntry(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	return entry, ok, nil
}

func (s *MemoryStorage) PutEntry(_ context.Context, key string, entry *Entry) error {
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) RemoveEntry(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) UpdateEntry(_ context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replacement, err := fn(s.entries[key])
	if err != nil {
		return err
	}
	if replacement == nil {
		delete(s.entries, key)
	} else {
		s.entries[key] = replacement
	}
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Store is the byte-level key/value interface implemented by the backend
// packages (diskcache, leveldbcache, redis, memcache, ...). A miss is
// ok=false with a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is a byte-level Store backed by an in-process map. It is the
// simplest backend and the reference implementation for the Store contract.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.items[key]
	return b, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// storeStorage adapts a byte-level Store into an entry Storage using a JSON
// codec and striped per-key locks for atomic updates. The locks only
// serialize updates issued through this process; multi-process deployments
// get last-writer-wins, which the Date-comparison merge rule keeps
// idempotent.
type storeStorage struct {
	store   Store
	stripes [64]sync.Mutex
}

// NewStoreStorage wraps a byte-level Store as an entry Storage.
func NewStoreStorage(store Store) Storage {
	return &storeStorage{store: store}
}

func (s *storeStorage) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key)) //nolint:errcheck // hash writes never fail
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

func (s *storeStorage) GetEntry(ctx context.Context, key string) (*Entry, bool, error) {
	b, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	entry, err := decodeEntry(b)
	if err != nil {
		return nil, false, fmt.Errorf("decoding cache entry %q: %w", key, err)
	}
	return entry, true, nil
}

func (s *storeStorage) PutEntry(ctx context.Context, key string, entry *Entry) error {
	b, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry %q: %w", key, err)
	}
	return s.store.Set(ctx, key, b)
}

func (s *storeStorage) RemoveEntry(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

func (s *storeStorage) UpdateEntry(ctx context.Context, key string, fn UpdateFunc) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	existing, _, err := s.GetEntry(ctx, key)
	if err != nil {
		return err
	}
	replacement, err := fn(existing)
	if err != nil {
		return err
	}
	if replacement == nil {
		return s.RemoveEntry(ctx, key)
	}
	return s.PutEntry(ctx, key, replacement)
}

// entryRecord is the serialized form of an Entry for byte-level stores.
type entryRecord struct {
	RequestDate  time.Time         `json:"requestDate"`
	ResponseDate time.Time         `json:"responseDate"`
	StatusCode   int               `json:"statusCode"`
	Reason       string            `json:"reason,omitempty"`
	ProtoMajor   int               `json:"protoMajor"`
	ProtoMinor   int               `json:"protoMinor"`
	Headers      Headers           `json:"headers"`
	HasBody      bool              `json:"hasBody"`
	Body         []byte            `json:"body,omitempty"`
	Variants     map[string]string `json:"variants,omitempty"`
	HEADRequest  bool              `json:"headRequest,omitempty"`
}

func encodeEntry(e *Entry) ([]byte, error) {
	rec := entryRecord{
		RequestDate:  e.RequestDate(),
		ResponseDate: e.ResponseDate(),
		StatusCode:   e.StatusCode(),
		Reason:       e.Reason(),
		ProtoMajor:   e.ProtoMajor(),
		ProtoMinor:   e.ProtoMinor(),
		Headers:      e.Headers(),
		Variants:     e.VariantMap(),
		HEADRequest:  e.HEADRequest(),
	}
	if res := e.Resource(); res != nil {
		body, err := res.Bytes()
		if err != nil {
			return nil, err
		}
		rec.HasBody = true
		rec.Body = body
	}
	return json.Marshal(rec)
}

func decodeEntry(b []byte) (*Entry, error) {
	var rec entryRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	var resource Resource
	if rec.HasBody {
		resource = NewHeapResource(rec.Body)
	}
	return NewEntry(EntrySpec{
		RequestDate:  rec.RequestDate,
		ResponseDate: rec.ResponseDate,
		StatusCode:   rec.StatusCode,
		Reason:       rec.Reason,
		ProtoMajor:   rec.ProtoMajor,
		ProtoMinor:   rec.ProtoMinor,
		Headers:      rec.Headers,
		Resource:     resource,
		Variants:     rec.Variants,
		HEADRequest:  rec.HEADRequest,
	}), nil
}
