package httpcaching

import (
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

type flakyRoundTripper struct {
	calls    atomic.Int32
	failures int32
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection refused")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       http.NoBody,
		Request:    req,
	}, nil
}

func TestExecuteWithResilienceRetries(t *testing.T) {
	rt := &flakyRoundTripper{failures: 2}
	tr, err := NewTransport(
		WithTransport(rt),
		WithLogger(discardLogger()),
		WithResilience(&ResilienceConfig{
			RetryPolicy: RetryPolicyBuilder().
				WithBackoff(time.Millisecond, 2*time.Millisecond).
				Build(),
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := tr.execute(getRequest(t, "http://example.com/"))
	if err != nil {
		t.Fatalf("execute failed despite retry policy: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := rt.calls.Load(); got != 3 {
		t.Errorf("origin called %d times, want 2 failures then success", got)
	}
}

func TestExecuteWithResilienceExhaustsRetries(t *testing.T) {
	rt := &flakyRoundTripper{failures: 100}
	tr, err := NewTransport(
		WithTransport(rt),
		WithLogger(discardLogger()),
		WithResilience(&ResilienceConfig{
			RetryPolicy: RetryPolicyBuilder().
				WithBackoff(time.Millisecond, 2*time.Millisecond).
				Build(),
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.execute(getRequest(t, "http://example.com/")); err == nil {
		t.Error("execute succeeded with a permanently failing origin")
	}
	// 1 initial attempt + 3 retries.
	if got := rt.calls.Load(); got != 4 {
		t.Errorf("origin called %d times, want 4", got)
	}
}

func TestExecuteWithResilienceCircuitBreaker(t *testing.T) {
	rt := &flakyRoundTripper{failures: 100}
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool { return err != nil }).
		WithFailureThreshold(2).
		WithDelay(time.Hour).
		Build()

	tr, err := NewTransport(
		WithTransport(rt),
		WithLogger(discardLogger()),
		WithResilience(&ResilienceConfig{CircuitBreaker: breaker}),
	)
	if err != nil {
		t.Fatal(err)
	}

	req := getRequest(t, "http://example.com/")
	for i := 0; i < 2; i++ {
		if _, err := tr.execute(req); err == nil {
			t.Fatal("failing origin call succeeded")
		}
	}
	if !breaker.IsOpen() {
		t.Fatal("breaker still closed after threshold failures")
	}

	// With the breaker open the origin is no longer called.
	before := rt.calls.Load()
	if _, err := tr.execute(req); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("err = %v, want circuit breaker open", err)
	}
	if rt.calls.Load() != before {
		t.Error("origin called while breaker open")
	}
}

func TestExecuteWithoutResilience(t *testing.T) {
	rt := &flakyRoundTripper{failures: 1}
	tr, err := NewTransport(WithTransport(rt), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.execute(getRequest(t, "http://example.com/")); err == nil {
		t.Error("transport error swallowed without a retry policy")
	}
	if got := rt.calls.Load(); got != 1 {
		t.Errorf("origin called %d times, want exactly 1", got)
	}
}

func TestDefaultBuildersHandle5xx(t *testing.T) {
	policy := RetryPolicyBuilder().
		WithBackoff(time.Millisecond, 2*time.Millisecond).
		Build()

	var calls atomic.Int32
	rt := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return &http.Response{StatusCode: 503, Header: http.Header{}, Body: http.NoBody}, nil
		}
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: http.NoBody}, nil
	})

	tr, err := NewTransport(
		WithTransport(rt),
		WithLogger(discardLogger()),
		WithResilience(&ResilienceConfig{RetryPolicy: policy}),
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := tr.execute(getRequest(t, "http://example.com/"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 5xx retried into 200", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("origin called %d times, want 2", calls.Load())
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
