package httpcaching

import (
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ResilienceConfig holds the failsafe-go policies applied to origin
// exchanges. Both policies are optional; a nil config disables resilience
// entirely.
type ResilienceConfig struct {
	// RetryPolicy retries failed origin calls. Nil disables retry.
	RetryPolicy retrypolicy.RetryPolicy[*http.Response]

	// CircuitBreaker short-circuits origin calls while the origin is
	// failing. Nil disables circuit breaking.
	CircuitBreaker circuitbreaker.CircuitBreaker[*http.Response]
}

// RetryPolicyBuilder returns a retry policy builder preconfigured for origin
// exchanges: retry on transport errors and 5xx responses, at most 3 times,
// with exponential backoff from 100ms to 10s. Customize further before
// calling Build.
func RetryPolicyBuilder() retrypolicy.Builder[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder returns a circuit breaker builder preconfigured for
// origin exchanges: open after 5 consecutive failures (errors or 5xx), close
// after 2 successes in half-open state, re-probe after 60 seconds.
func CircuitBreakerBuilder() circuitbreaker.Builder[*http.Response] {
	return circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.StatusCode >= 500
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

func (t *Transport) executeWithResilience(fn func() (*http.Response, error)) (*http.Response, error) {
	if t.resilience == nil {
		return fn()
	}

	var policies []failsafe.Policy[*http.Response]
	if t.resilience.RetryPolicy != nil {
		policies = append(policies, t.resilience.RetryPolicy)
	}
	if t.resilience.CircuitBreaker != nil {
		policies = append(policies, t.resilience.CircuitBreaker)
	}
	if len(policies) == 0 {
		return fn()
	}

	return failsafe.With(policies...).Get(fn)
}
