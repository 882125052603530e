package httpcaching

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// KeyGenerator derives canonical storage keys from requests and variant keys
// from Vary dimensions. Identical logical URIs and identical variant header
// values always produce byte-identical keys.
type KeyGenerator struct{}

// URI returns the canonical cache key for a request:
// scheme://host[:port]/path[?query] with the default port elided and an
// empty path normalized to "/".
func (KeyGenerator) URI(req *http.Request) string {
	u := req.URL
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		host = strings.ToLower(req.Host)
	}
	host = stripDefaultPort(scheme, host)

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// VariantKey computes the variant discriminator for a request against the
// Vary dimensions of a stored entry: the entry's varying header names are
// sorted, each paired with the comma-joined trimmed values of all instances
// of that header on the request (empty when absent), URL-encoded, joined
// with "&" and wrapped in braces. The result is deterministic regardless of
// the order names appeared in the Vary declaration.
func (KeyGenerator) VariantKey(req *http.Request, entry *Entry) string {
	names := varyHeaderNames(entry)
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		var vals []string
		for _, v := range req.Header.Values(http.CanonicalHeaderKey(name)) {
			vals = append(vals, strings.TrimSpace(v))
		}
		value := strings.Join(vals, ", ")
		parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(value))
	}
	return "{" + strings.Join(parts, "&") + "}"
}

// VariantURI returns the full storage key for the variant of entry matching
// the request's header values.
func (g KeyGenerator) VariantURI(req *http.Request, entry *Entry) string {
	return g.VariantKey(req, entry) + g.URI(req)
}

// varyHeaderNames collects the lowercase header names listed across all
// instances of the entry's Vary header.
func varyHeaderNames(entry *Entry) []string {
	var names []string
	seen := make(map[string]bool)
	for _, v := range entry.HeaderValues(headerVary) {
		for _, name := range strings.Split(v, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
