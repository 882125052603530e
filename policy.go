package httpcaching

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// RequestCachePolicy decides whether an incoming request may be answered
// from the cache at all.
type RequestCachePolicy struct{}

// IsServableFromCache is true only for GET requests that do not demand an
// end-to-end reload. Both Cache-Control and Pragma are inspected, across all
// instances of either header.
func (RequestCachePolicy) IsServableFromCache(req *http.Request) bool {
	if req.Method != methodGET {
		return false
	}
	for _, header := range []string{headerCacheControl, headerPragma} {
		for _, d := range requestDirectives(req.Header, header) {
			if d.name == cacheControlNoStore || d.name == cacheControlNoCache {
				return false
			}
		}
	}
	return true
}

// ResponseCachePolicy decides whether a request/response exchange is
// eligible for storage.
type ResponseCachePolicy struct {
	// MaxObjectSize is the largest body, in bytes, the cache will store.
	MaxObjectSize int64
	// Shared selects shared-cache semantics (private responses and
	// unauthorized Authorization exchanges are rejected).
	Shared bool
	// HeuristicEnabled permits storing responses that carry no explicit
	// freshness information.
	HeuristicEnabled bool
	// Allow303Caching permits storing 303 See Other responses when their
	// directives allow it (RFC 7231 relaxed the RFC 2616 prohibition).
	Allow303Caching bool

	Log *slog.Logger
}

// Historically cacheable status codes (RFC 2616 Section 13.4).
var cacheableStatuses = map[int]bool{
	http.StatusOK:                   true,
	http.StatusNonAuthoritativeInfo: true,
	http.StatusMultipleChoices:      true,
	http.StatusMovedPermanently:     true,
	http.StatusFound:                true,
}

// Status codes that must never be stored even when directives would allow it.
var uncacheableStatuses = map[int]bool{
	http.StatusPartialContent: true,
}

func (p ResponseCachePolicy) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// IsResponseCacheable reports whether the exchange may be stored. It looks
// only at the status line and headers; the body-size limit is enforced
// separately by the size-limited reader once the actual length is known.
func (p ResponseCachePolicy) IsResponseCacheable(req *http.Request, resp *http.Response) bool {
	if req.ProtoMajor > 1 || (req.ProtoMajor == 1 && req.ProtoMinor > 1) {
		return false
	}
	if requestHasDirective(req.Header, headerCacheControl, cacheControlNoStore) {
		return false
	}
	if req.URL != nil && req.URL.RawQuery != "" && (!p.isExplicitlyCacheable(resp) || from10Origin(resp)) {
		p.log().Debug("response to query URI without explicit freshness not cacheable",
			"url", req.URL.String())
		return false
	}
	if expiresNotLaterThanDateAndNoCacheControl(resp) {
		return false
	}
	if p.Shared && req.Header.Get(headerAuthorization) != "" {
		if !p.hasAnyDirective(resp, cacheControlSMaxAge, cacheControlMustRevalidate, cacheControlPublic) {
			return false
		}
	}
	return p.isMethodResponseCacheable(req.Method, resp)
}

func (p ResponseCachePolicy) isMethodResponseCacheable(method string, resp *http.Response) bool {
	if method != methodGET {
		return false
	}

	status := resp.StatusCode
	statusCacheable := cacheableStatuses[status]
	if status == http.StatusSeeOther {
		if !p.Allow303Caching {
			return false
		}
		statusCacheable = true
	}
	if uncacheableStatuses[status] || (!statusCacheable && unknownStatusCode(status)) {
		return false
	}

	if cl := resp.Header.Get(headerContentLength); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > p.MaxObjectSize {
			return false
		}
	}

	// Responses with duplicated or unparseable temporal headers are not
	// trustworthy enough to cache.
	if len(resp.Header.Values(headerAge)) > 1 {
		return false
	}
	if len(resp.Header.Values(headerExpires)) > 1 {
		return false
	}
	dates := resp.Header.Values(headerDate)
	if len(dates) != 1 {
		return false
	}
	if _, err := http.ParseTime(dates[0]); err != nil {
		return false
	}

	for _, v := range headerAllCommaSepValues(resp.Header, headerVary) {
		if v == "*" {
			return false
		}
	}

	if p.isExplicitlyNonCacheable(resp) {
		return false
	}

	return statusCacheable && (p.isExplicitlyCacheable(resp) || p.HeuristicEnabled)
}

func (p ResponseCachePolicy) isExplicitlyNonCacheable(resp *http.Response) bool {
	for _, d := range requestDirectives(resp.Header, headerCacheControl) {
		if d.name == cacheControlNoStore || d.name == cacheControlNoCache {
			return true
		}
		if p.Shared && d.name == cacheControlPrivate {
			return true
		}
	}
	return false
}

func (p ResponseCachePolicy) isExplicitlyCacheable(resp *http.Response) bool {
	if resp.Header.Get(headerExpires) != "" {
		return true
	}
	return p.hasAnyDirective(resp,
		cacheControlMaxAge, cacheControlSMaxAge,
		cacheControlMustRevalidate, cacheControlProxyRevalidate,
		cacheControlPublic)
}

func (p ResponseCachePolicy) hasAnyDirective(resp *http.Response, names ...string) bool {
	for _, d := range requestDirectives(resp.Header, headerCacheControl) {
		for _, name := range names {
			if d.name == name {
				return true
			}
		}
	}
	return false
}

func unknownStatusCode(status int) bool {
	switch {
	case status >= 100 && status <= 101:
		return false
	case status >= 200 && status <= 206:
		return false
	case status >= 300 && status <= 308:
		return false
	case status >= 400 && status <= 417:
		return false
	case status >= 500 && status <= 505:
		return false
	}
	return true
}

// from10Origin reports whether the response appears to have come from an
// HTTP/1.0 origin, possibly relayed by a 1.1 proxy (Via header inspection).
func from10Origin(resp *http.Response) bool {
	if resp.ProtoMajor == 1 && resp.ProtoMinor == 0 {
		return true
	}
	if via := resp.Header.Get("Via"); via != "" {
		if first := strings.TrimSpace(strings.Split(via, ",")[0]); first != "" {
			proto := strings.Fields(first)[0]
			return proto == "1.0" || strings.EqualFold(proto, "HTTP/1.0")
		}
	}
	return false
}

// expiresNotLaterThanDateAndNoCacheControl detects the pre-expired style of
// response (Expires <= Date with no Cache-Control at all), which must not be
// stored.
func expiresNotLaterThanDateAndNoCacheControl(resp *http.Response) bool {
	if resp.Header.Get(headerCacheControl) != "" {
		return false
	}
	expiresHdr := resp.Header.Get(headerExpires)
	dateHdr := resp.Header.Get(headerDate)
	if expiresHdr == "" || dateHdr == "" {
		return false
	}
	expires, err := http.ParseTime(expiresHdr)
	if err != nil {
		return false
	}
	date, err := http.ParseTime(dateHdr)
	if err != nil {
		return false
	}
	return !expires.After(date)
}
