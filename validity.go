package httpcaching

import (
	"net/http"
	"strconv"
	"time"
)

// ValidityPolicy computes age, freshness and revalidatability for cache
// entries. All methods are pure functions of the entry and the supplied
// reference time. Malformed header values never fail: they degrade to
// documented fallbacks (missing or unparseable Date behaves as infinitely
// old, malformed Age as the sentinel maximum, malformed max-age as zero).
type ValidityPolicy struct {
	// Shared selects shared-cache semantics: s-maxage participates in the
	// freshness lifetime computation only for shared caches.
	Shared bool
}

// parseDateValue parses an HTTP date header value, returning ok=false when
// the header is absent or malformed.
func parseDateValue(hs Headers, name string) (time.Time, bool) {
	v, ok := hs.First(name)
	if !ok {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseSeconds parses a non-negative decimal seconds value.
func parseSeconds(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// dateValue returns the parsed Date header of the entry.
func (ValidityPolicy) dateValue(e *Entry) (time.Time, bool) {
	return parseDateValue(e.headers, headerDate)
}

// lastModifiedValue returns the parsed Last-Modified header of the entry.
func (ValidityPolicy) lastModifiedValue(e *Entry) (time.Time, bool) {
	return parseDateValue(e.headers, headerLastModified)
}

// expirationDate returns the parsed Expires header of the entry.
func (ValidityPolicy) expirationDate(e *Entry) (time.Time, bool) {
	return parseDateValue(e.headers, headerExpires)
}

// ContentLengthValue returns the entry's Content-Length header value, or -1
// when the header is absent or malformed.
func (p ValidityPolicy) ContentLengthValue(e *Entry) int64 {
	v, ok := e.headers.First(headerContentLength)
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// ApparentAgeSecs is max(0, responseDate - Date). A missing or unparseable
// Date header yields the sentinel maximum age, biasing toward revalidation.
func (p ValidityPolicy) ApparentAgeSecs(e *Entry) int64 {
	date, ok := p.dateValue(e)
	if !ok {
		return maxAgeSeconds
	}
	diff := e.responseDate.Sub(date)
	if diff < 0 {
		return 0
	}
	return int64(diff.Seconds())
}

// ageValue returns the largest valid Age header value across all instances.
// A malformed or negative Age value counts as the sentinel maximum.
func (p ValidityPolicy) ageValue(e *Entry) int64 {
	var age int64
	for _, v := range e.headers.Values(headerAge) {
		hdrAge, ok := parseSeconds(v)
		if !ok {
			hdrAge = maxAgeSeconds
		}
		if hdrAge > age {
			age = hdrAge
		}
	}
	return age
}

// CorrectedReceivedAgeSecs is max(apparent age, Age header value).
func (p ValidityPolicy) CorrectedReceivedAgeSecs(e *Entry) int64 {
	apparent := p.ApparentAgeSecs(e)
	if age := p.ageValue(e); age > apparent {
		return age
	}
	return apparent
}

// ResponseDelaySecs is the network and processing delay bracketed by the
// entry's request and response dates.
func (p ValidityPolicy) ResponseDelaySecs(e *Entry) int64 {
	return int64(e.responseDate.Sub(e.requestDate).Seconds())
}

// CorrectedInitialAgeSecs is the corrected received age plus response delay.
func (p ValidityPolicy) CorrectedInitialAgeSecs(e *Entry) int64 {
	return p.CorrectedReceivedAgeSecs(e) + p.ResponseDelaySecs(e)
}

// ResidentTimeSecs is the time the entry has spent in the cache as of now.
func (p ValidityPolicy) ResidentTimeSecs(e *Entry, now time.Time) int64 {
	return int64(now.Sub(e.responseDate).Seconds())
}

// CurrentAgeSecs reconstructs the entry's age per RFC 7234 Section 4.2.3.
func (p ValidityPolicy) CurrentAgeSecs(e *Entry, now time.Time) int64 {
	return p.CorrectedInitialAgeSecs(e) + p.ResidentTimeSecs(e, now)
}

// maxAgeDirective returns the most restrictive max-age (and, for shared
// caches, s-maxage) directive value, or -1 when none is present. A malformed
// value conservatively forces 0.
func (p ValidityPolicy) maxAgeDirective(e *Entry) int64 {
	maxage := int64(-1)
	for _, d := range headerDirectives(e.headers, headerCacheControl) {
		if d.name != cacheControlMaxAge && !(p.Shared && d.name == cacheControlSMaxAge) {
			continue
		}
		cur, ok := parseSeconds(d.value)
		if !ok {
			maxage = 0
			continue
		}
		if maxage == -1 || cur < maxage {
			maxage = cur
		}
	}
	return maxage
}

// FreshnessLifetimeSecs returns the explicit freshness lifetime: the most
// restrictive max-age/s-maxage directive when present, otherwise
// Expires - Date. Missing or unparseable temporal headers yield 0.
func (p ValidityPolicy) FreshnessLifetimeSecs(e *Entry) int64 {
	if maxage := p.maxAgeDirective(e); maxage > -1 {
		return maxage
	}
	date, ok := p.dateValue(e)
	if !ok {
		return 0
	}
	expiry, ok := p.expirationDate(e)
	if !ok {
		return 0
	}
	return int64(expiry.Sub(date).Seconds())
}

// HeuristicFreshnessLifetimeSecs estimates a freshness lifetime as
// coefficient * (Date - Last-Modified), floored at 0 and deliberately
// unclamped on the high end, falling back to defaultLifetime when either
// date is unavailable.
func (p ValidityPolicy) HeuristicFreshnessLifetimeSecs(e *Entry, coefficient float64, defaultLifetime int64) int64 {
	date, dateOK := p.dateValue(e)
	lastModified, lmOK := p.lastModifiedValue(e)
	if dateOK && lmOK {
		diff := date.Sub(lastModified)
		if diff < 0 {
			return 0
		}
		return int64(coefficient * diff.Seconds())
	}
	return defaultLifetime
}

// IsResponseFresh reports whether the entry's current age is strictly below
// its freshness lifetime. Equality is stale.
func (p ValidityPolicy) IsResponseFresh(e *Entry, now time.Time) bool {
	return p.CurrentAgeSecs(e, now) < p.FreshnessLifetimeSecs(e)
}

// IsResponseHeuristicallyFresh reports whether the entry is fresh under the
// heuristic lifetime estimate.
func (p ValidityPolicy) IsResponseHeuristicallyFresh(e *Entry, now time.Time, coefficient float64, defaultLifetime int64) bool {
	return p.CurrentAgeSecs(e, now) < p.HeuristicFreshnessLifetimeSecs(e, coefficient, defaultLifetime)
}

// IsRevalidatable reports whether the entry carries a validator usable for a
// conditional request.
func (p ValidityPolicy) IsRevalidatable(e *Entry) bool {
	return e.headers.Contains(headerETag) || e.headers.Contains(headerLastModified)
}

// MustRevalidate reports the presence of the must-revalidate directive.
func (p ValidityPolicy) MustRevalidate(e *Entry) bool {
	return hasDirective(e.headers, headerCacheControl, cacheControlMustRevalidate)
}

// ProxyRevalidate reports the presence of the proxy-revalidate directive.
func (p ValidityPolicy) ProxyRevalidate(e *Entry) bool {
	return hasDirective(e.headers, headerCacheControl, cacheControlProxyRevalidate)
}

// StalenessSecs is how far past its freshness lifetime the entry currently
// is; fresh entries have zero staleness.
func (p ValidityPolicy) StalenessSecs(e *Entry, now time.Time) int64 {
	age := p.CurrentAgeSecs(e, now)
	freshness := p.FreshnessLifetimeSecs(e)
	if age <= freshness {
		return 0
	}
	return age - freshness
}

// MayReturnStaleWhileRevalidating reports whether the entry's
// stale-while-revalidate window still covers its current staleness
// (RFC 5861 Section 3). Malformed directive values are skipped.
func (p ValidityPolicy) MayReturnStaleWhileRevalidating(e *Entry, now time.Time) bool {
	for _, d := range headerDirectives(e.headers, headerCacheControl) {
		if d.name != cacheControlStaleWhileReval {
			continue
		}
		window, ok := parseSeconds(d.value)
		if !ok {
			continue
		}
		if p.StalenessSecs(e, now) <= window {
			return true
		}
	}
	return false
}

// MayReturnStaleIfError reports whether either the request or the stored
// entry permits serving the entry despite an origin failure (RFC 5861
// Section 4).
func (p ValidityPolicy) MayReturnStaleIfError(reqHeaders http.Header, e *Entry, now time.Time) bool {
	staleness := p.StalenessSecs(e, now)
	return staleIfErrorCovers(requestDirectives(reqHeaders, headerCacheControl), staleness) ||
		staleIfErrorCovers(headerDirectives(e.headers, headerCacheControl), staleness)
}

func staleIfErrorCovers(directives []directive, staleness int64) bool {
	for _, d := range directives {
		if d.name != cacheControlStaleIfError {
			continue
		}
		window, ok := parseSeconds(d.value)
		if !ok {
			continue
		}
		if staleness <= window {
			return true
		}
	}
	return false
}
