package prometheus

import (
	"context"
	"time"

	"github.com/sandrolain/httpcaching"
	"github.com/sandrolain/httpcaching/metrics"
)

// InstrumentedStore wraps a byte-level store and reports every operation to
// a collector.
type InstrumentedStore struct {
	store     httpcaching.Store
	backend   string
	collector metrics.Collector
}

// NewInstrumentedStore wraps store, labelling operations with the given
// backend name (e.g. "redis", "memcache"). A nil collector defaults to
// metrics.DefaultCollector.
func NewInstrumentedStore(store httpcaching.Store, backend string, collector metrics.Collector) *InstrumentedStore {
	if collector == nil {
		collector = metrics.DefaultCollector
	}
	return &InstrumentedStore{
		store:     store,
		backend:   backend,
		collector: collector,
	}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.store.Get(ctx, key)
	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "miss"
	}
	s.collector.RecordCacheOperation("get", s.backend, result, time.Since(start))
	return value, ok, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.store.Set(ctx, key, value)
	result := "success"
	if err != nil {
		result = "error"
	}
	s.collector.RecordCacheOperation("set", s.backend, result, time.Since(start))
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	result := "success"
	if err != nil {
		result = "error"
	}
	s.collector.RecordCacheOperation("delete", s.backend, result, time.Since(start))
	return err
}

var _ httpcaching.Store = (*InstrumentedStore)(nil)
