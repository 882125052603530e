// Package httpcaching implements an RFC 2616/7234 compliant HTTP caching
// layer that sits between an HTTP client and an origin transport. It decides
// whether a request can be served from a local store, whether a stored
// response is still usable, and how to reconcile stored state with fresh
// responses, including background revalidation of stale entries.
package httpcaching

import (
	"net/http"
	"sort"
	"strings"
)

const (
	headerCacheControl    = "Cache-Control"
	headerPragma          = "Pragma"
	headerAge             = "Age"
	headerDate            = "Date"
	headerExpires         = "Expires"
	headerLastModified    = "Last-Modified"
	headerETag            = "ETag"
	headerVary            = "Vary"
	headerWarning         = "Warning"
	headerContentLength   = "Content-Length"
	headerContentLocation = "Content-Location"
	headerLocation        = "Location"
	headerIfModifiedSince = "If-Modified-Since"
	headerIfNoneMatch     = "If-None-Match"
	headerIfMatch         = "If-Match"
	headerIfUnmodSince    = "If-Unmodified-Since"
	headerIfRange         = "If-Range"
	headerAuthorization   = "Authorization"

	cacheControlNoCache         = "no-cache"
	cacheControlNoStore         = "no-store"
	cacheControlMaxAge          = "max-age"
	cacheControlSMaxAge         = "s-maxage"
	cacheControlMaxStale        = "max-stale"
	cacheControlMinFresh        = "min-fresh"
	cacheControlMustRevalidate  = "must-revalidate"
	cacheControlProxyRevalidate = "proxy-revalidate"
	cacheControlPrivate         = "private"
	cacheControlPublic          = "public"
	cacheControlOnlyIfCached    = "only-if-cached"
	cacheControlStaleWhileReval = "stale-while-revalidate"
	cacheControlStaleIfError    = "stale-if-error"

	pragmaNoCache = "no-cache"

	methodGET     = "GET"
	methodHEAD    = "HEAD"
	methodPOST    = "POST"
	methodPUT     = "PUT"
	methodDELETE  = "DELETE"
	methodPATCH   = "PATCH"
	methodOPTIONS = "OPTIONS"
	methodTRACE   = "TRACE"

	// warningStaleResponse is "110 Response is Stale" (RFC 7234 Section 5.5.1)
	warningStaleResponse = `110 - "Response is Stale"`
	// warningRevalidationFailed is "111 Revalidation Failed" (RFC 7234 Section 5.5.2)
	warningRevalidationFailed = `111 - "Revalidation Failed"`
)

// maxAgeSeconds is the sentinel age used when an entry's temporal headers are
// missing or malformed. An entry that appears this old always fails freshness
// checks and forces revalidation.
const maxAgeSeconds int64 = 2147483648

// Header is a single HTTP header name/value pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered sequence of header pairs. Unlike http.Header it
// preserves insertion order and duplicate names, which the merge and
// freshness computations depend on.
type Headers []Header

// First returns the value of the first header with the given name.
func (hs Headers) First(name string) (string, bool) {
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Values returns the values of all headers with the given name, in order.
func (hs Headers) Values(name string) []string {
	var vals []string
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

// Contains reports whether at least one header with the given name exists.
func (hs Headers) Contains(name string) bool {
	_, ok := hs.First(name)
	return ok
}

// Clone returns a copy that can be mutated without affecting the receiver.
func (hs Headers) Clone() Headers {
	if hs == nil {
		return nil
	}
	out := make(Headers, len(hs))
	copy(out, hs)
	return out
}

// ToHTTP converts the ordered header list to an http.Header map.
func (hs Headers) ToHTTP() http.Header {
	out := make(http.Header, len(hs))
	for _, h := range hs {
		out.Add(h.Name, h.Value)
	}
	return out
}

// headersFromHTTP flattens an http.Header map into an ordered list. Names are
// sorted so the result is deterministic regardless of map iteration order;
// values for a single name keep their original order.
func headersFromHTTP(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out Headers
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// directive is a single parsed element of a comma-separated header value,
// e.g. "max-age=60" -> {name: "max-age", value: "60", hasValue: true}.
type directive struct {
	name     string
	value    string
	hasValue bool
}

// parseDirectives splits a raw header value into its comma-separated
// elements. Quoted values keep their content with the surrounding quotes
// stripped. Malformed input never fails; empty elements are skipped.
func parseDirectives(raw string) []directive {
	var out []directive
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		d := directive{name: strings.ToLower(strings.TrimSpace(name))}
		if found {
			d.hasValue = true
			d.value = strings.Trim(strings.TrimSpace(value), `"`)
		}
		out = append(out, d)
	}
	return out
}

// headerDirectives parses all instances of the named header on hs and
// returns their concatenated directive elements in order.
func headerDirectives(hs Headers, name string) []directive {
	var out []directive
	for _, v := range hs.Values(name) {
		out = append(out, parseDirectives(v)...)
	}
	return out
}

// hasDirective reports whether any instance of the named header carries the
// given directive.
func hasDirective(hs Headers, header, name string) bool {
	for _, d := range headerDirectives(hs, header) {
		if d.name == name {
			return true
		}
	}
	return false
}

// requestDirectives parses directive elements across all instances of a
// request header.
func requestDirectives(h http.Header, name string) []directive {
	var out []directive
	for _, v := range h.Values(name) {
		out = append(out, parseDirectives(v)...)
	}
	return out
}

// requestHasDirective reports whether the request header name carries the
// given directive in any of its instances.
func requestHasDirective(h http.Header, header, name string) bool {
	for _, d := range requestDirectives(h, header) {
		if d.name == name {
			return true
		}
	}
	return false
}

// headerAllCommaSepValues returns all comma-separated values (each with
// whitespace trimmed) for header name in headers, concatenating values from
// multiple occurrences per RFC 7230 Section 3.2.2.
func headerAllCommaSepValues(headers http.Header, name string) []string {
	var vals []string
	for _, val := range headers[http.CanonicalHeaderKey(name)] {
		fields := strings.Split(val, ",")
		for i, f := range fields {
			fields[i] = strings.TrimSpace(f)
		}
		vals = append(vals, fields...)
	}
	return vals
}
