package httpcaching

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandrolain/httpcaching/metrics"
)

const (
	// XFromCache marks responses that were answered from the cache.
	XFromCache = "X-From-Cache"

	cacheStatusHit         = "hit"
	cacheStatusMiss        = "miss"
	cacheStatusRevalidated = "revalidated"
	cacheStatusStale       = "stale"
	cacheStatusBypass      = "bypass"
)

// Transport is an http.RoundTripper that answers requests from a cache when
// the stored response is usable, revalidates stale entries with conditional
// requests, and keeps the store consistent with every response that passes
// through it.
type Transport struct {
	transport http.RoundTripper

	storage Storage
	cache   *basicCache
	keys    KeyGenerator

	validity           ValidityPolicy
	requestPolicy      RequestCachePolicy
	responsePolicy     ResponseCachePolicy
	suitability        SuitabilityChecker
	conditional        ConditionalRequestBuilder
	updater            EntryUpdater
	invalidator        Invalidator
	requestCompliance  RequestCompliance
	responseCompliance ResponseCompliance
	generator          responseGenerator

	revalidator   *AsyncRevalidator
	asyncTimeout  time.Duration
	resilience    *ResilienceConfig
	collector     metrics.Collector
	clock         func() time.Time
	logger        *slog.Logger
	markFromCache bool
	shared        bool
}

// Client returns an *http.Client whose responses flow through the cache.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) log() *slog.Logger {
	if t != nil && t.logger != nil {
		return t.logger
	}
	return slog.Default()
}

func (t *Transport) now() time.Time {
	if t.clock != nil {
		return t.clock()
	}
	return time.Now()
}

// RoundTrip serves req from the cache when a stored response is suitable,
// revalidates or refetches otherwise, and records any cacheable response.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()

	if !t.requestPolicy.IsServableFromCache(req) {
		resp, err := t.passthrough(ctx, req)
		t.record(req, resp, cacheStatusBypass, start)
		return resp, err
	}

	req = t.requestCompliance.MakeCompliant(req)

	entry, ok, err := t.cache.getEntry(ctx, req)
	if err != nil {
		// A broken store degrades to a miss rather than failing the request.
		t.log().Warn("cache lookup failed, treating as miss", "url", req.URL.String(), "error", err)
		ok = false
	}
	if !ok {
		resp, err := t.handleCacheMiss(ctx, req)
		t.record(req, resp, cacheStatusMiss, start)
		return resp, err
	}
	return t.handleCacheHit(ctx, req, entry, start)
}

// passthrough forwards a request the cache layer cannot answer, keeping the
// store consistent with any mutation the request implies.
func (t *Transport) passthrough(ctx context.Context, req *http.Request) (*http.Response, error) {
	t.invalidator.FlushInvalidatedEntries(ctx, req)
	resp, err := t.execute(req)
	if err != nil {
		return nil, err
	}
	t.invalidator.FlushInvalidatedEntriesAfterResponse(ctx, req, resp)
	return resp, nil
}

func (t *Transport) handleCacheMiss(ctx context.Context, req *http.Request) (*http.Response, error) {
	if requestHasDirective(req.Header, headerCacheControl, cacheControlOnlyIfCached) {
		return newGatewayTimeoutResponse(req), nil
	}

	variants, err := t.cache.getVariants(ctx, req)
	if err != nil {
		t.log().Warn("variant lookup failed", "url", req.URL.String(), "error", err)
	}
	if len(variants) > 0 {
		return t.negotiateResponseFromVariants(ctx, req, variants)
	}

	return t.callBackend(ctx, req)
}

func (t *Transport) handleCacheHit(ctx context.Context, req *http.Request, entry *Entry, start time.Time) (*http.Response, error) {
	now := t.now()

	if t.suitability.CanCachedResponseBeUsed(req, entry, now) {
		resp, err := t.generator.generate(req, entry, now)
		if err != nil {
			// The resource vanished under the entry; refetch.
			t.log().Warn("cached resource unreadable, refetching", "url", req.URL.String(), "error", err)
			resp, err := t.callBackend(ctx, req)
			t.record(req, resp, cacheStatusMiss, start)
			return resp, err
		}
		if t.markFromCache {
			resp.Header.Set(XFromCache, "1")
		}
		if !t.validity.IsResponseFresh(entry, now) {
			addStaleWarning(resp)
		}
		t.record(req, resp, cacheStatusHit, start)
		return resp, nil
	}

	if !t.validity.IsRevalidatable(entry) {
		resp, err := t.callBackend(ctx, req)
		t.record(req, resp, cacheStatusMiss, start)
		return resp, err
	}

	if t.mayServeStaleWhileRevalidating(entry, now) {
		resp, err := t.generator.generate(req, entry, now)
		if err == nil {
			addStaleWarning(resp)
			if t.markFromCache {
				resp.Header.Set(XFromCache, "1")
			}
			t.scheduleRevalidation(req, entry)
			t.record(req, resp, cacheStatusStale, start)
			return resp, nil
		}
		t.log().Warn("cached resource unreadable, revalidating inline", "url", req.URL.String(), "error", err)
	}

	if requestHasDirective(req.Header, headerCacheControl, cacheControlOnlyIfCached) {
		return newGatewayTimeoutResponse(req), nil
	}

	resp, err := t.revalidate(ctx, req, entry)
	t.record(req, resp, cacheStatusRevalidated, start)
	return resp, err
}

// mayServeStaleWhileRevalidating gates background revalidation: the entry's
// stale-while-revalidate window must cover the current staleness and nothing
// may demand synchronous revalidation.
func (t *Transport) mayServeStaleWhileRevalidating(entry *Entry, now time.Time) bool {
	if t.revalidator == nil {
		return false
	}
	if t.validity.MustRevalidate(entry) {
		return false
	}
	if t.shared && t.validity.ProxyRevalidate(entry) {
		return false
	}
	return t.validity.MayReturnStaleWhileRevalidating(entry, now)
}

// callBackend performs the origin exchange for a cache-servable request and
// folds the response back into the cache.
func (t *Transport) callBackend(ctx context.Context, req *http.Request) (*http.Response, error) {
	requestDate := t.now()
	resp, err := t.execute(req)
	responseDate := t.now()
	if err != nil {
		return nil, err
	}
	return t.handleBackendResponse(ctx, req, resp, requestDate, responseDate)
}

func (t *Transport) handleBackendResponse(ctx context.Context, req *http.Request, resp *http.Response, requestDate, responseDate time.Time) (*http.Response, error) {
	if err := t.responseCompliance.EnsureCompliance(req, resp); err != nil {
		drainDiscardedBody(resp.Body)
		return nil, err
	}

	t.invalidator.FlushInvalidatedEntriesAfterResponse(ctx, req, resp)

	if t.responsePolicy.IsResponseCacheable(req, resp) {
		out, _, err := t.cache.cacheAndReturn(ctx, req, resp, requestDate, responseDate)
		return out, err
	}

	if err := t.cache.remove(ctx, req); err != nil {
		t.log().Warn("failed to flush entry for non-cacheable response", "url", req.URL.String(), "error", err)
	}
	return resp, nil
}

// negotiateResponseFromVariants asks the origin which stored variant, if
// any, still matches by sending every variant's ETag. A 304 naming a known
// ETag promotes that variant; anything else falls back to a full exchange.
func (t *Transport) negotiateResponseFromVariants(ctx context.Context, req *http.Request, variants map[string]Variant) (*http.Response, error) {
	conditional := t.conditional.BuildConditionalRequestFromVariants(req, variants)

	requestDate := t.now()
	resp, err := t.execute(conditional)
	responseDate := t.now()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusNotModified {
		return t.handleBackendResponse(ctx, req, resp, requestDate, responseDate)
	}

	variant, ok := variantByETag(variants, resp.Header.Get(headerETag))
	if !ok {
		// The origin picked a representation the cache never stored.
		drainDiscardedBody(resp.Body)
		return t.callBackend(ctx, t.conditional.BuildUnconditionalRequest(req, nil))
	}

	updated, err := t.updater.UpdateEntry(variant.CacheKey, variant.Entry, requestDate, responseDate, resp)
	drainDiscardedBody(resp.Body)
	if err != nil {
		return t.callBackend(ctx, t.conditional.BuildUnconditionalRequest(req, nil))
	}

	if err := t.storage.PutEntry(ctx, variant.CacheKey, updated); err != nil {
		t.log().Warn("failed to store updated variant", "key", variant.CacheKey, "error", err)
	}
	if err := t.cache.reuseVariant(ctx, req, Variant{VariantKey: variant.VariantKey, CacheKey: variant.CacheKey, Entry: updated}); err != nil {
		t.log().Warn("failed to reuse variant", "key", variant.CacheKey, "error", err)
	}

	out, err := t.generator.generate(req, updated, t.now())
	if err != nil {
		return t.callBackend(ctx, t.conditional.BuildUnconditionalRequest(req, nil))
	}
	if t.markFromCache {
		out.Header.Set(XFromCache, "1")
	}
	return out, nil
}

func variantByETag(variants map[string]Variant, etag string) (Variant, bool) {
	if etag == "" {
		return Variant{}, false
	}
	for _, v := range variants {
		if stored, ok := v.Entry.FirstHeader(headerETag); ok && stored == etag {
			return v, true
		}
	}
	return Variant{}, false
}

// revalidate performs a synchronous conditional exchange for a stale entry.
// A 304 refreshes the stored entry; origin failures may fall back to the
// stale entry when its stale-if-error window allows it.
func (t *Transport) revalidate(ctx context.Context, req *http.Request, entry *Entry) (*http.Response, error) {
	conditional := t.conditional.BuildConditionalRequest(req, entry)

	requestDate := t.now()
	resp, err := t.execute(conditional)
	responseDate := t.now()

	if err != nil {
		if stale, ok := t.staleOnError(req, entry); ok {
			return stale, nil
		}
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		if stale, ok := t.staleOnError(req, entry); ok {
			drainDiscardedBody(resp.Body)
			return stale, nil
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		updated, err := t.updater.UpdateEntry(t.keys.URI(req), entry, requestDate, responseDate, resp)
		drainDiscardedBody(resp.Body)
		if err != nil {
			return t.callBackend(ctx, req)
		}
		if err := t.cache.store(ctx, req, updated); err != nil {
			t.log().Warn("failed to store revalidated entry", "url", req.URL.String(), "error", err)
		}
		out, err := t.generator.generate(req, updated, t.now())
		if err != nil {
			return t.callBackend(ctx, req)
		}
		if t.markFromCache {
			out.Header.Set(XFromCache, "1")
		}
		return out, nil
	}

	return t.handleBackendResponse(ctx, req, resp, requestDate, responseDate)
}

// staleOnError returns the stale cached response carrying a 111 warning when
// the entry's stale-if-error window covers its current staleness.
func (t *Transport) staleOnError(req *http.Request, entry *Entry) (*http.Response, bool) {
	now := t.now()
	if !t.validity.MayReturnStaleIfError(req.Header, entry, now) {
		return nil, false
	}
	resp, err := t.generator.generate(req, entry, now)
	if err != nil {
		return nil, false
	}
	addStaleWarning(resp)
	addRevalidationFailedWarning(resp)
	if t.markFromCache {
		resp.Header.Set(XFromCache, "1")
	}
	if t.collector != nil {
		t.collector.RecordStaleResponse("origin_unreachable")
	}
	return resp, true
}

// scheduleRevalidation hands a stale entry to the background revalidator.
// Requests for a key already being revalidated collapse into the pending
// attempt.
func (t *Transport) scheduleRevalidation(req *http.Request, entry *Entry) {
	identifier := t.keys.URI(req)
	if entry.Headers().Contains(headerVary) {
		identifier = t.keys.VariantURI(req, entry)
	}

	clone := cloneRequest(req)
	t.revalidator.Revalidate(identifier, func() error {
		ctx := context.Background()
		cancel := func() {}
		if t.asyncTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, t.asyncTimeout)
		}
		defer cancel()

		resp, err := t.revalidate(ctx, clone.WithContext(ctx), entry)
		if err != nil {
			return err
		}
		drainDiscardedBody(resp.Body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return &revalidationStatusError{status: resp.StatusCode}
		}
		return nil
	})
}

type revalidationStatusError struct {
	status int
}

func (e *revalidationStatusError) Error() string {
	return "revalidation returned status " + http.StatusText(e.status)
}

// CloseRevalidator stops background revalidation, waiting up to timeout for
// in-flight attempts. Safe to call when async revalidation is disabled.
func (t *Transport) CloseRevalidator(timeout time.Duration) bool {
	if t.revalidator == nil {
		return true
	}
	return t.revalidator.Close(timeout)
}

func (t *Transport) execute(req *http.Request) (*http.Response, error) {
	rt := t.transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return t.executeWithResilience(func() (*http.Response, error) {
		return rt.RoundTrip(req)
	})
}

func (t *Transport) record(req *http.Request, resp *http.Response, cacheStatus string, start time.Time) {
	if t.collector == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.collector.RecordHTTPRequest(req.Method, cacheStatus, status, time.Since(start))
	if resp != nil && resp.ContentLength > 0 {
		t.collector.RecordHTTPResponseSize(cacheStatus, resp.ContentLength)
	}
}

// newGatewayTimeoutResponse answers an only-if-cached request that the cache
// cannot satisfy, per RFC 7234 Section 5.2.1.7.
func newGatewayTimeoutResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode: http.StatusGatewayTimeout,
		Status:     "504 Gateway Timeout",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}
}

// drainDiscardedBody consumes and closes a response body the caller will not
// return, keeping the underlying connection reusable.
func drainDiscardedBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20)) //nolint:errcheck // best effort
	_ = body.Close()                                        //nolint:errcheck // best effort
}
