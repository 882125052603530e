// Package metrics defines the collection interface the caching transport and
// the store wrappers report into. Implementations live in subpackages so the
// core package carries no monitoring dependencies.
package metrics

import (
	"time"
)

// Collector receives cache and HTTP events.
type Collector interface {
	// RecordCacheOperation records a store operation ("get", "set",
	// "delete") against a named backend with its result ("hit", "miss",
	// "success", "error") and duration.
	RecordCacheOperation(operation, backend, result string, duration time.Duration)

	// RecordHTTPRequest records a request through the caching transport.
	// cacheStatus is one of "hit", "miss", "revalidated", "stale" or
	// "bypass".
	RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration)

	// RecordHTTPResponseSize records the body size of a returned response.
	RecordHTTPResponseSize(cacheStatus string, sizeBytes int64)

	// RecordStaleResponse records a stale response served because the origin
	// could not be revalidated.
	RecordStaleResponse(errorType string)
}

// NoOpCollector discards every event. It is the default when metrics are not
// configured, so unmonitored deployments pay nothing.
type NoOpCollector struct{}

func (NoOpCollector) RecordCacheOperation(operation, backend, result string, duration time.Duration) {
}

func (NoOpCollector) RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
}

func (NoOpCollector) RecordHTTPResponseSize(cacheStatus string, sizeBytes int64) {}

func (NoOpCollector) RecordStaleResponse(errorType string) {}

// DefaultCollector is used when no collector is configured.
var DefaultCollector Collector = NoOpCollector{}

var _ Collector = NoOpCollector{}
