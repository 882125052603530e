package httpcaching

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a settable time source for transport tests. The starting
// instant is the real current time so origin Date headers stay plausible.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCachingClient(t *testing.T, server *httptest.Server, clock *fakeClock, extra ...TransportOption) (*http.Client, *Transport) {
	t.Helper()
	opts := append([]TransportOption{
		WithTransport(server.Client().Transport),
		WithClock(clock.Now),
		WithLogger(discardLogger()),
	}, extra...)
	transport, err := NewTransport(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { transport.CloseRevalidator(time.Second) })
	return transport.Client(), transport
}

func fetch(t *testing.T, client *http.Client, url string, headers ...Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range headers {
		req.Header.Set(h.Name, h.Value)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestTransportServesFreshHit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	resp := fetch(t, client, server.URL)
	if resp.Header.Get(XFromCache) != "" {
		t.Error("first response marked as cached")
	}
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("body = %q", got)
	}

	clock.Advance(10 * time.Second)
	resp = fetch(t, client, server.URL)
	if resp.Header.Get(XFromCache) != "1" {
		t.Error("second response not served from cache")
	}
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("cached body = %q", got)
	}
	if got := resp.Header.Get(headerAge); got != "10" {
		t.Errorf("Age = %q, want 10", got)
	}
	if hits.Load() != 1 {
		t.Errorf("origin hit %d times, want 1", hits.Load())
	}
}

func TestTransportRevalidatesWith304(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.Header().Set("Cache-Control", "max-age=3600")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	readBody(t, fetch(t, client, server.URL))

	clock.Advance(2 * time.Minute)
	resp := fetch(t, client, server.URL)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d after 304 revalidation", resp.StatusCode)
	}
	if resp.Header.Get(XFromCache) != "1" {
		t.Error("revalidated response not marked as cached")
	}
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("revalidated body = %q", got)
	}
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times, want 2", hits.Load())
	}

	// The refreshed entry answers the next request without the origin.
	readBody(t, fetch(t, client, server.URL))
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times after refresh, want 2", hits.Load())
	}
}

func TestTransportReplacesChangedEntity(t *testing.T) {
	var body atomic.Value
	body.Store("one")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=10")
		_, _ = io.WriteString(w, body.Load().(string))
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	if got := readBody(t, fetch(t, client, server.URL)); got != "one" {
		t.Fatalf("body = %q", got)
	}

	body.Store("two")
	clock.Advance(time.Minute)
	if got := readBody(t, fetch(t, client, server.URL)); got != "two" {
		t.Errorf("body after expiry = %q, want refetched entity", got)
	}
	// And the replacement is cached in turn.
	if got := readBody(t, fetch(t, client, server.URL)); got != "two" {
		t.Errorf("body from refreshed cache = %q", got)
	}
}

func TestTransportStaleResponseCarriesWarning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=1")
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	readBody(t, fetch(t, client, server.URL))

	// Serve stale explicitly via max-stale.
	clock.Advance(time.Minute)
	resp := fetch(t, client, server.URL, Header{Name: "Cache-Control", Value: "max-stale=600"})
	if resp.Header.Get(XFromCache) != "1" {
		t.Fatal("max-stale request not served from cache")
	}
	warning := resp.Header.Get(headerWarning)
	if !strings.HasPrefix(warning, "110") {
		t.Errorf("Warning = %q, want 110 on stale response", warning)
	}
	readBody(t, resp)
}

func TestTransportStaleWhileRevalidate(t *testing.T) {
	var hits atomic.Int32
	revalidated := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			select {
			case revalidated <- struct{}{}:
			default:
			}
		}
		w.Header().Set("Cache-Control", "max-age=1, stale-while-revalidate=600")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock,
		WithAsyncRevalidation(1, 10, nil))

	readBody(t, fetch(t, client, server.URL))

	clock.Advance(time.Minute)
	resp := fetch(t, client, server.URL)
	if resp.Header.Get(XFromCache) != "1" {
		t.Fatal("stale response not served from cache")
	}
	if !strings.HasPrefix(resp.Header.Get(headerWarning), "110") {
		t.Errorf("Warning = %q, want 110", resp.Header.Get(headerWarning))
	}
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("stale body = %q", got)
	}

	select {
	case <-revalidated:
	case <-time.After(2 * time.Second):
		t.Fatal("background revalidation never reached the origin")
	}
}

func TestTransportStaleIfError(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "max-age=1, stale-if-error=600")
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	readBody(t, fetch(t, client, server.URL))

	failing.Store(true)
	clock.Advance(time.Minute)
	resp := fetch(t, client, server.URL)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want stale 200 on origin failure", resp.StatusCode)
	}
	if resp.Header.Get(XFromCache) != "1" {
		t.Error("stale-if-error response not marked as cached")
	}
	warnings := resp.Header.Values(headerWarning)
	var saw110, saw111 bool
	for _, w := range warnings {
		saw110 = saw110 || strings.HasPrefix(w, "110")
		saw111 = saw111 || strings.HasPrefix(w, "111")
	}
	if !saw110 || !saw111 {
		t.Errorf("warnings = %v, want 110 and 111", warnings)
	}
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("stale body = %q", got)
	}

	// Outside the window the failure propagates.
	clock.Advance(time.Hour)
	resp = fetch(t, client, server.URL)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d beyond stale-if-error window, want 500", resp.StatusCode)
	}
	readBody(t, resp)
}

func TestTransportOnlyIfCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	resp := fetch(t, client, server.URL, Header{Name: "Cache-Control", Value: "only-if-cached"})
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d for uncached only-if-cached, want 504", resp.StatusCode)
	}
	readBody(t, resp)

	readBody(t, fetch(t, client, server.URL))
	resp = fetch(t, client, server.URL, Header{Name: "Cache-Control", Value: "only-if-cached"})
	if resp.StatusCode != http.StatusOK || resp.Header.Get(XFromCache) != "1" {
		t.Errorf("status = %d from-cache=%q, want cached 200",
			resp.StatusCode, resp.Header.Get(XFromCache))
	}
	readBody(t, resp)
}

func TestTransportVaryNegotiation(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Vary", "X-Tenant")
		tenant := r.Header.Get("X-Tenant")
		w.Header().Set("ETag", `"`+tenant+`"`)
		_, _ = io.WriteString(w, "tenant:"+tenant)
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	a := fetch(t, client, server.URL, Header{Name: "X-Tenant", Value: "a"})
	if got := readBody(t, a); got != "tenant:a" {
		t.Fatalf("body = %q", got)
	}
	b := fetch(t, client, server.URL, Header{Name: "X-Tenant", Value: "b"})
	if got := readBody(t, b); got != "tenant:b" {
		t.Fatalf("body = %q", got)
	}

	// Each variant is answered from its own entry.
	a = fetch(t, client, server.URL, Header{Name: "X-Tenant", Value: "a"})
	if a.Header.Get(XFromCache) != "1" {
		t.Error("variant a not served from cache")
	}
	if got := readBody(t, a); got != "tenant:a" {
		t.Errorf("variant a body = %q", got)
	}
	b = fetch(t, client, server.URL, Header{Name: "X-Tenant", Value: "b"})
	if b.Header.Get(XFromCache) != "1" {
		t.Error("variant b not served from cache")
	}
	if got := readBody(t, b); got != "tenant:b" {
		t.Errorf("variant b body = %q", got)
	}
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times, want 2", hits.Load())
	}
}

func TestTransportUnsafeMethodInvalidates(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" {
			hits.Add(1)
			w.Header().Set("Cache-Control", "max-age=600")
			_, _ = io.WriteString(w, "state")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	readBody(t, fetch(t, client, server.URL))
	readBody(t, fetch(t, client, server.URL))
	if hits.Load() != 1 {
		t.Fatalf("origin hit %d times before mutation, want 1", hits.Load())
	}

	req, _ := http.NewRequest("POST", server.URL, strings.NewReader("update"))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)

	readBody(t, fetch(t, client, server.URL))
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times after POST, want entry invalidated", hits.Load())
	}
}

func TestTransportDoesNotCacheNoStore(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = io.WriteString(w, "private")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock)

	readBody(t, fetch(t, client, server.URL))
	readBody(t, fetch(t, client, server.URL))
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times, want no-store bypassing the cache", hits.Load())
	}
}

func TestTransportOversizedResponsePassesThrough(t *testing.T) {
	var hits atomic.Int32
	big := strings.Repeat("x", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=600")
		_, _ = io.WriteString(w, big)
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock, WithMaxObjectSize(10))

	if got := readBody(t, fetch(t, client, server.URL)); got != big {
		t.Fatalf("body length = %d, want full passthrough", len(got))
	}
	if got := readBody(t, fetch(t, client, server.URL)); got != big {
		t.Fatalf("second body length = %d", len(got))
	}
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times, want oversized body never cached", hits.Load())
	}
}

func TestTransportSharedCacheSkipsAuthorized(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=600")
		_, _ = io.WriteString(w, "secret")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock, WithSharedCache(true))

	auth := Header{Name: "Authorization", Value: "Bearer token"}
	readBody(t, fetch(t, client, server.URL, auth))
	readBody(t, fetch(t, client, server.URL, auth))
	if hits.Load() != 2 {
		t.Errorf("origin hit %d times, want authorized responses uncached in shared mode", hits.Load())
	}
}

func TestTransportUnmarkedResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = io.WriteString(w, "hello")
	}))
	defer server.Close()

	clock := newFakeClock()
	client, _ := newCachingClient(t, server, clock, WithMarkCachedResponses(false))

	readBody(t, fetch(t, client, server.URL))
	resp := fetch(t, client, server.URL)
	if resp.Header.Get(XFromCache) != "" {
		t.Error("cached response marked despite WithMarkCachedResponses(false)")
	}
	if got := resp.Header.Get(headerAge); got == "" {
		// Age still distinguishes a hit when marking is off.
		t.Log("no Age header on cached response")
	}
	readBody(t, resp)
}
