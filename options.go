package httpcaching

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sandrolain/httpcaching/metrics"
)

const (
	// DefaultMaxObjectSize is the largest response body stored when no
	// explicit limit is configured.
	DefaultMaxObjectSize int64 = 8192

	// DefaultHeuristicCoefficient is the fraction of the Date/Last-Modified
	// interval used as heuristic freshness lifetime.
	DefaultHeuristicCoefficient = 0.1
)

// TransportOption configures a Transport. Use the With* functions to create
// options.
type TransportOption func(*transportConfig) error

type transportConfig struct {
	transport     http.RoundTripper
	storage       Storage
	resources     ResourceFactory
	logger        *slog.Logger
	clock         func() time.Time
	collector     metrics.Collector
	resilience    *ResilienceConfig
	shared        bool
	markFromCache bool
	maxObjectSize int64
	allow303      bool
	heuristicOn   bool
	heuristicCoef float64
	heuristicLife time.Duration
	asyncWorkers  int
	asyncQueue    int
	asyncStrategy SchedulingStrategy
	asyncTimeout  time.Duration
	asyncEnabled  bool
}

// WithTransport sets the underlying http.RoundTripper used for origin
// exchanges. If nil, http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) TransportOption {
	return func(c *transportConfig) error {
		c.transport = rt
		return nil
	}
}

// WithStorage sets the entry store. Default: an in-memory store.
func WithStorage(s Storage) TransportOption {
	return func(c *transportConfig) error {
		if s == nil {
			return fmt.Errorf("storage cannot be nil")
		}
		c.storage = s
		return nil
	}
}

// WithStore sets a byte-level backend as the entry store, wrapping it with
// the JSON entry codec. Use this with the backend subpackages (redis,
// memcache, leveldbcache, ...).
func WithStore(s Store) TransportOption {
	return func(c *transportConfig) error {
		if s == nil {
			return fmt.Errorf("store cannot be nil")
		}
		c.storage = NewStoreStorage(s)
		return nil
	}
}

// WithResourceFactory sets how response bodies are materialized. Default:
// in-memory resources.
func WithResourceFactory(f ResourceFactory) TransportOption {
	return func(c *transportConfig) error {
		if f == nil {
			return fmt.Errorf("resource factory cannot be nil")
		}
		c.resources = f
		return nil
	}
}

// WithSharedCache switches the cache into shared (proxy/CDN) mode: s-maxage
// and proxy-revalidate are honored and responses to authorized requests are
// only stored when explicitly permitted.
// Default: false (private cache).
func WithSharedCache(shared bool) TransportOption {
	return func(c *transportConfig) error {
		c.shared = shared
		return nil
	}
}

// WithMarkCachedResponses controls whether responses served from the cache
// carry the X-From-Cache header.
// Default: true when using NewTransport.
func WithMarkCachedResponses(mark bool) TransportOption {
	return func(c *transportConfig) error {
		c.markFromCache = mark
		return nil
	}
}

// WithMaxObjectSize limits the response body size, in bytes, that may be
// stored. Larger responses pass through uncached.
// Default: DefaultMaxObjectSize.
func WithMaxObjectSize(size int64) TransportOption {
	return func(c *transportConfig) error {
		if size <= 0 {
			return fmt.Errorf("max object size must be positive, got %d", size)
		}
		c.maxObjectSize = size
		return nil
	}
}

// WithAllow303Caching permits storing 303 See Other responses whose
// directives allow it, per the relaxed RFC 7231 rules.
// Default: false (303 responses are never stored).
func WithAllow303Caching(allow bool) TransportOption {
	return func(c *transportConfig) error {
		c.allow303 = allow
		return nil
	}
}

// WithHeuristicCaching enables heuristic freshness for responses without
// explicit freshness information. The coefficient scales the interval
// between Date and Last-Modified; defaultLifetime applies when
// Last-Modified is absent.
func WithHeuristicCaching(coefficient float64, defaultLifetime time.Duration) TransportOption {
	return func(c *transportConfig) error {
		if coefficient < 0 || coefficient > 1 {
			return fmt.Errorf("heuristic coefficient must be in [0,1], got %v", coefficient)
		}
		c.heuristicOn = true
		c.heuristicCoef = coefficient
		c.heuristicLife = defaultLifetime
		return nil
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) TransportOption {
	return func(c *transportConfig) error {
		c.logger = l
		return nil
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) TransportOption {
	return func(c *transportConfig) error {
		c.clock = clock
		return nil
	}
}

// WithMetricsCollector sets the metrics collector.
// Default: a no-op collector.
func WithMetricsCollector(collector metrics.Collector) TransportOption {
	return func(c *transportConfig) error {
		if collector == nil {
			return fmt.Errorf("metrics collector cannot be nil")
		}
		c.collector = collector
		return nil
	}
}

// WithResilience applies failsafe-go retry and circuit breaker policies to
// origin exchanges. See RetryPolicyBuilder and CircuitBreakerBuilder for
// preconfigured defaults.
func WithResilience(cfg *ResilienceConfig) TransportOption {
	return func(c *transportConfig) error {
		c.resilience = cfg
		return nil
	}
}

// WithAsyncRevalidation enables background revalidation of stale entries
// within their stale-while-revalidate window, on a pool of workers consuming
// a queue of at most queueCapacity pending revalidations. A nil strategy
// defaults to immediate scheduling.
func WithAsyncRevalidation(workers, queueCapacity int, strategy SchedulingStrategy) TransportOption {
	return func(c *transportConfig) error {
		if workers <= 0 {
			return fmt.Errorf("async revalidation workers must be positive, got %d", workers)
		}
		c.asyncEnabled = true
		c.asyncWorkers = workers
		c.asyncQueue = queueCapacity
		c.asyncStrategy = strategy
		return nil
	}
}

// WithAsyncRevalidateTimeout bounds each background revalidation attempt.
// Zero means no timeout.
func WithAsyncRevalidateTimeout(timeout time.Duration) TransportOption {
	return func(c *transportConfig) error {
		c.asyncTimeout = timeout
		return nil
	}
}

// NewTransport builds a caching Transport. Without options it is a private
// in-memory cache with an 8 KiB object limit and no background
// revalidation.
func NewTransport(opts ...TransportOption) (*Transport, error) {
	cfg := &transportConfig{
		markFromCache: true,
		maxObjectSize: DefaultMaxObjectSize,
		heuristicCoef: DefaultHeuristicCoefficient,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.storage == nil {
		cfg.storage = NewMemoryStorage()
	}
	if cfg.resources == nil {
		cfg.resources = HeapResourceFactory{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.collector == nil {
		cfg.collector = metrics.DefaultCollector
	}

	keys := KeyGenerator{}
	validity := ValidityPolicy{Shared: cfg.shared}
	heuristicLifeSecs := int64(cfg.heuristicLife / time.Second)

	t := &Transport{
		transport:     cfg.transport,
		storage:       cfg.storage,
		keys:          keys,
		validity:      validity,
		requestPolicy: RequestCachePolicy{},
		responsePolicy: ResponseCachePolicy{
			MaxObjectSize:    cfg.maxObjectSize,
			Shared:           cfg.shared,
			HeuristicEnabled: cfg.heuristicOn,
			Allow303Caching:  cfg.allow303,
			Log:              cfg.logger,
		},
		suitability: SuitabilityChecker{
			Validity:                 validity,
			HeuristicEnabled:         cfg.heuristicOn,
			HeuristicCoefficient:     cfg.heuristicCoef,
			HeuristicDefaultLifetime: heuristicLifeSecs,
			Log:                      cfg.logger,
		},
		conditional:   ConditionalRequestBuilder{Validity: validity},
		updater:       EntryUpdater{Resources: cfg.resources},
		invalidator:   Invalidator{Keys: keys, Storage: cfg.storage, Log: cfg.logger},
		generator:     responseGenerator{validity: validity},
		resilience:    cfg.resilience,
		collector:     cfg.collector,
		clock:         cfg.clock,
		logger:        cfg.logger,
		markFromCache: cfg.markFromCache,
		shared:        cfg.shared,
		asyncTimeout:  cfg.asyncTimeout,
	}
	t.cache = &basicCache{
		keys:          keys,
		storage:       cfg.storage,
		resources:     cfg.resources,
		maxObjectSize: cfg.maxObjectSize,
		log:           cfg.logger,
	}
	if cfg.asyncEnabled {
		t.revalidator = NewAsyncRevalidator(cfg.asyncWorkers, cfg.asyncQueue, cfg.asyncStrategy, cfg.logger)
	}
	return t, nil
}
