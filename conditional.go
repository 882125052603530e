package httpcaching

import (
	"net/http"
	"strings"
)

// ConditionalRequestBuilder constructs the origin requests used for
// revalidation of stored entries.
type ConditionalRequestBuilder struct {
	Validity ValidityPolicy
}

// cloneRequest returns a shallow copy of r with a deep copy of its headers.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, v := range r.Header {
		r2.Header[k] = append([]string(nil), v...)
	}
	return r2
}

// BuildConditionalRequest clones req and attaches the entry's validators as
// If-Modified-Since / If-None-Match. When the entry requires end-to-end
// revalidation (must-revalidate/proxy-revalidate), Cache-Control: max-age=0
// is also injected so intermediate caches cannot answer.
func (b ConditionalRequestBuilder) BuildConditionalRequest(req *http.Request, entry *Entry) *http.Request {
	out := cloneRequest(req)
	if lastModified, ok := entry.FirstHeader(headerLastModified); ok {
		out.Header.Set(headerIfModifiedSince, lastModified)
	}
	if etag, ok := entry.FirstHeader(headerETag); ok {
		out.Header.Set(headerIfNoneMatch, etag)
	}
	if b.Validity.MustRevalidate(entry) || b.Validity.ProxyRevalidate(entry) {
		out.Header.Add(headerCacheControl, cacheControlMaxAge+"=0")
	}
	return out
}

// BuildConditionalRequestFromVariants builds a single revalidation request
// whose If-None-Match carries the ETags of every stored variant, letting the
// origin pick the variant that still matches.
func (b ConditionalRequestBuilder) BuildConditionalRequestFromVariants(req *http.Request, variants map[string]Variant) *http.Request {
	out := cloneRequest(req)

	etags := make([]string, 0, len(variants))
	seen := make(map[string]bool, len(variants))
	for _, variant := range variants {
		etag, ok := variant.Entry.FirstHeader(headerETag)
		if !ok || seen[etag] {
			continue
		}
		seen[etag] = true
		etags = append(etags, etag)
	}
	if len(etags) > 0 {
		out.Header.Set(headerIfNoneMatch, strings.Join(etags, ", "))
	}
	return out
}

// conditionalHeaders are stripped when building an unconditional request.
var conditionalHeaders = []string{
	headerIfRange,
	headerIfMatch,
	headerIfNoneMatch,
	headerIfUnmodSince,
	headerIfModifiedSince,
}

// BuildUnconditionalRequest clones req into a full-fetch request: all
// conditional headers removed, method forced to GET, protocol forced to the
// cache's supported version, and no-cache/Pragma attached so intermediaries
// must go end to end.
func (b ConditionalRequestBuilder) BuildUnconditionalRequest(req *http.Request, _ *Entry) *http.Request {
	out := cloneRequest(req)
	out.Method = methodGET
	out.Proto = "HTTP/1.1"
	out.ProtoMajor = 1
	out.ProtoMinor = 1
	for _, name := range conditionalHeaders {
		out.Header.Del(name)
	}
	out.Header.Set(headerCacheControl, cacheControlNoCache)
	out.Header.Set(headerPragma, pragmaNoCache)
	return out
}
