package httpcaching

import (
	"log/slog"
	"net/http"
	"time"
)

// SuitabilityChecker decides whether an already-stored entry may satisfy a
// new incoming request without contacting the origin.
type SuitabilityChecker struct {
	Validity ValidityPolicy

	// Heuristic freshness settings, consulted only for entries with no
	// explicit freshness information.
	HeuristicEnabled         bool
	HeuristicCoefficient     float64
	HeuristicDefaultLifetime int64

	Log *slog.Logger
}

func (c SuitabilityChecker) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// CanCachedResponseBeUsed runs the suitability gate. It short-circuits false
// on the first failing condition; malformed request directives always err on
// the side of revalidation.
func (c SuitabilityChecker) CanCachedResponseBeUsed(req *http.Request, entry *Entry, now time.Time) bool {
	if !c.contentLengthMatches(entry) {
		c.log().Debug("cache entry Content-Length does not match resource length")
		return false
	}

	if c.hasUnsupportedConditionalHeaders(req) {
		c.log().Debug("request carries conditional headers the cache does not evaluate")
		return false
	}

	if requestHasDirective(req.Header, headerCacheControl, cacheControlNoCache) ||
		requestHasDirective(req.Header, headerPragma, pragmaNoCache) {
		c.log().Debug("request demands revalidation (no-cache)")
		return false
	}

	currentAge := c.Validity.CurrentAgeSecs(entry, now)
	lifetime := c.Validity.FreshnessLifetimeSecs(entry)

	for _, d := range requestDirectives(req.Header, headerCacheControl) {
		switch d.name {
		case cacheControlMaxAge:
			maxAge, ok := parseSeconds(d.value)
			if !ok {
				return false
			}
			if currentAge > maxAge {
				c.log().Debug("cache entry too old for request max-age",
					"age", currentAge, "max-age", maxAge)
				return false
			}
		case cacheControlMinFresh:
			minFresh, ok := parseSeconds(d.value)
			if !ok {
				return false
			}
			if lifetime-currentAge < minFresh {
				c.log().Debug("cache entry will not stay fresh long enough",
					"remaining", lifetime-currentAge, "min-fresh", minFresh)
				return false
			}
		}
	}

	if c.Validity.IsResponseFresh(entry, now) {
		return true
	}

	if maxStale, present, ok := requestMaxStale(req.Header); present {
		if !ok {
			return false
		}
		if currentAge-lifetime <= maxStale {
			c.log().Debug("serving stale entry permitted by max-stale",
				"staleness", currentAge-lifetime, "max-stale", maxStale)
			return true
		}
	}

	if c.HeuristicEnabled &&
		c.Validity.IsResponseHeuristicallyFresh(entry, now, c.HeuristicCoefficient, c.HeuristicDefaultLifetime) {
		return true
	}

	return false
}

// contentLengthMatches verifies the entry's stated Content-Length against
// the actual resource byte count. Entries without the header always pass; a
// header that is present but unparseable never matches.
func (c SuitabilityChecker) contentLengthMatches(entry *Entry) bool {
	if _, ok := entry.FirstHeader(headerContentLength); !ok {
		return true
	}
	stated := c.Validity.ContentLengthValue(entry)
	if stated < 0 {
		return false
	}
	var actual int64
	if res := entry.Resource(); res != nil {
		actual = res.Length()
	}
	return stated == actual
}

// hasUnsupportedConditionalHeaders reports conditional constructs the cache
// passes through to the origin rather than evaluating locally.
func (c SuitabilityChecker) hasUnsupportedConditionalHeaders(req *http.Request) bool {
	return req.Header.Get(headerIfRange) != "" ||
		req.Header.Get(headerIfMatch) != "" ||
		req.Header.Get(headerIfUnmodSince) != "" ||
		req.Header.Get(headerIfNoneMatch) != "" ||
		req.Header.Get(headerIfModifiedSince) != ""
}

// requestMaxStale returns the request's max-stale allowance. present is true
// when the directive exists at all; ok is false when its value is malformed.
// A bare max-stale (no value) accepts unlimited staleness.
func requestMaxStale(h http.Header) (allowance int64, present, ok bool) {
	for _, d := range requestDirectives(h, headerCacheControl) {
		if d.name != cacheControlMaxStale {
			continue
		}
		if !d.hasValue {
			return maxAgeSeconds, true, true
		}
		n, valid := parseSeconds(d.value)
		if !valid {
			return 0, true, false
		}
		return n, true, true
	}
	return 0, false, false
}
