package httpcaching

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// SchedulingStrategy decides how long a background revalidation should wait
// before hitting the origin, based on how many consecutive attempts for the
// same entry have failed.
type SchedulingStrategy interface {
	// Delay returns the wait before executing a revalidation whose entry has
	// failed the given number of consecutive attempts. Zero failures means
	// the previous attempt succeeded or none was made yet.
	Delay(consecutiveFailures int) time.Duration
}

// ImmediateSchedulingStrategy executes every revalidation as soon as a worker
// is available.
type ImmediateSchedulingStrategy struct{}

func (ImmediateSchedulingStrategy) Delay(int) time.Duration { return 0 }

// ExponentialBackOffSchedulingStrategy delays revalidations of entries whose
// recent attempts failed, multiplying the initial delay by BackOffRate for
// each additional consecutive failure and clamping at MaxDelay.
type ExponentialBackOffSchedulingStrategy struct {
	BackOffRate  float64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// NewExponentialBackOffSchedulingStrategy returns a strategy with a backoff
// rate of 10, an initial delay of 6 seconds and a ceiling of 24 hours.
func NewExponentialBackOffSchedulingStrategy() ExponentialBackOffSchedulingStrategy {
	return ExponentialBackOffSchedulingStrategy{
		BackOffRate:  10,
		InitialDelay: 6 * time.Second,
		MaxDelay:     24 * time.Hour,
	}
}

func (s ExponentialBackOffSchedulingStrategy) Delay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	delay := float64(s.InitialDelay) * math.Pow(s.BackOffRate, float64(consecutiveFailures-1))
	if delay > float64(s.MaxDelay) || math.IsInf(delay, 1) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

type revalidationJob struct {
	identifier string
	delay      time.Duration
	run        func() error
}

// AsyncRevalidator executes stale-entry revalidations on a bounded worker
// pool. At most one revalidation per cache key is in flight at a time;
// further requests for the same key while one is pending are collapsed into
// it. When the queue is full new revalidations are dropped, never blocked on.
type AsyncRevalidator struct {
	strategy  SchedulingStrategy
	logger    *slog.Logger
	jobs      chan revalidationJob
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu       sync.Mutex
	queued   map[string]struct{}
	failures map[string]int
}

// NewAsyncRevalidator starts workers goroutines consuming a queue of at most
// queueCapacity pending revalidations. A nil strategy defaults to immediate
// scheduling.
func NewAsyncRevalidator(workers, queueCapacity int, strategy SchedulingStrategy, logger *slog.Logger) *AsyncRevalidator {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 100
	}
	if strategy == nil {
		strategy = ImmediateSchedulingStrategy{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &AsyncRevalidator{
		strategy: strategy,
		logger:   logger,
		jobs:     make(chan revalidationJob, queueCapacity),
		done:     make(chan struct{}),
		queued:   make(map[string]struct{}),
		failures: make(map[string]int),
	}
	v.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go v.worker()
	}
	return v
}

// Revalidate schedules run for the given cache key. It reports whether the
// revalidation was accepted: false means one is already pending for the key,
// the queue is full, or the revalidator has been closed.
func (v *AsyncRevalidator) Revalidate(identifier string, run func() error) bool {
	select {
	case <-v.done:
		return false
	default:
	}

	v.mu.Lock()
	if _, pending := v.queued[identifier]; pending {
		v.mu.Unlock()
		return false
	}
	v.queued[identifier] = struct{}{}
	delay := v.strategy.Delay(v.failures[identifier])
	v.mu.Unlock()

	select {
	case v.jobs <- revalidationJob{identifier: identifier, delay: delay, run: run}:
		return true
	default:
		v.markComplete(identifier)
		v.logger.Warn("revalidation queue full, dropping", "key", identifier)
		return false
	}
}

// Pending reports the number of revalidations queued or running. Exposed for
// introspection and tests.
func (v *AsyncRevalidator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.queued)
}

func (v *AsyncRevalidator) worker() {
	defer v.wg.Done()
	for {
		select {
		case <-v.done:
			return
		case job := <-v.jobs:
			v.execute(job)
		}
	}
}

func (v *AsyncRevalidator) execute(job revalidationJob) {
	defer v.markComplete(job.identifier)

	if job.delay > 0 {
		timer := time.NewTimer(job.delay)
		select {
		case <-v.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if err := job.run(); err != nil {
		v.mu.Lock()
		v.failures[job.identifier]++
		v.mu.Unlock()
		v.logger.Debug("background revalidation failed", "key", job.identifier, "error", err)
		return
	}
	v.mu.Lock()
	delete(v.failures, job.identifier)
	v.mu.Unlock()
}

func (v *AsyncRevalidator) markComplete(identifier string) {
	v.mu.Lock()
	delete(v.queued, identifier)
	v.mu.Unlock()
}

// Close stops the workers and waits up to timeout for in-flight
// revalidations to finish. It reports whether the shutdown completed in
// time.
func (v *AsyncRevalidator) Close(timeout time.Duration) bool {
	v.closeOnce.Do(func() { close(v.done) })

	finished := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}
