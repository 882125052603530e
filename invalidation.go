package httpcaching

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Invalidator removes cache entries in reaction to unsafe methods and to
// Location/Content-Location headers on successful responses.
type Invalidator struct {
	Keys    KeyGenerator
	Storage Storage
	Log     *slog.Logger
}

func (inv Invalidator) log() *slog.Logger {
	if inv.Log != nil {
		return inv.Log
	}
	return slog.Default()
}

// safe methods never invalidate (RFC 7231 Section 4.2.1).
func isSafeMethod(method string) bool {
	switch method {
	case methodGET, methodHEAD, methodOPTIONS, methodTRACE:
		return true
	}
	return false
}

// FlushInvalidatedEntries runs the request-side invalidation pass: an unsafe
// method flushes the request URI's entry (and every variant it references)
// plus any same-host URI named by the request's Location/Content-Location
// headers. Cross-host URIs are never touched, preventing cache poisoning via
// attacker-controlled headers.
func (inv Invalidator) FlushInvalidatedEntries(ctx context.Context, req *http.Request) {
	if isSafeMethod(req.Method) {
		return
	}

	uri := inv.Keys.URI(req)
	inv.flushEntryAndVariants(ctx, uri)

	for _, header := range []string{headerContentLocation, headerLocation} {
		if v := req.Header.Get(header); v != "" {
			inv.flushRelativeSameHost(ctx, req.URL, v)
		}
	}
}

// FlushInvalidatedEntriesAfterResponse runs the response-side pass: on a
// successful (2xx) response to an unsafe method, same-host URIs named by the
// response's Location/Content-Location are flushed unless the stored entry
// provably matches the response representation (same ETag, entry not older
// than the response). Entries without usable validators are flushed.
func (inv Invalidator) FlushInvalidatedEntriesAfterResponse(ctx context.Context, req *http.Request, resp *http.Response) {
	if isSafeMethod(req.Method) {
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return
	}

	for _, header := range []string{headerContentLocation, headerLocation} {
		v := resp.Header.Get(header)
		if v == "" {
			continue
		}
		target, ok := resolveSameHost(req.URL, v)
		if !ok {
			inv.log().Debug("skipping cross-host invalidation", "header", header, "value", v)
			continue
		}
		inv.flushIfRepresentationChanged(ctx, target, resp)
	}
}

// flushEntryAndVariants removes the entry at uri along with every variant
// entry its variant map references. The variant flush is deliberately
// conservative: all variants go, affected by the mutation or not.
func (inv Invalidator) flushEntryAndVariants(ctx context.Context, uri string) {
	entry, ok, err := inv.Storage.GetEntry(ctx, uri)
	if err != nil {
		inv.log().Warn("cache lookup failed during invalidation", "key", uri, "error", err)
		return
	}
	if ok && entry.HasVariants() {
		for _, variantURI := range entry.VariantMap() {
			if err := inv.Storage.RemoveEntry(ctx, variantURI); err != nil {
				inv.log().Warn("failed to flush variant entry", "key", variantURI, "error", err)
			}
		}
	}
	if err := inv.Storage.RemoveEntry(ctx, uri); err != nil {
		inv.log().Warn("failed to flush cache entry", "key", uri, "error", err)
	}
}

// flushRelativeSameHost resolves ref against base and flushes the resulting
// URI when it stays on the same host.
func (inv Invalidator) flushRelativeSameHost(ctx context.Context, base *url.URL, ref string) {
	target, ok := resolveSameHost(base, ref)
	if !ok {
		return
	}
	inv.flushEntryAndVariants(ctx, inv.Keys.URI(&http.Request{Method: methodGET, URL: target}))
}

// flushIfRepresentationChanged flushes the stored entry for target unless
// the response demonstrably carries the same representation.
func (inv Invalidator) flushIfRepresentationChanged(ctx context.Context, target *url.URL, resp *http.Response) {
	uri := inv.Keys.URI(&http.Request{Method: methodGET, URL: target})
	entry, ok, err := inv.Storage.GetEntry(ctx, uri)
	if err != nil {
		inv.log().Warn("cache lookup failed during response invalidation", "key", uri, "error", err)
		return
	}
	if !ok {
		return
	}
	if responseDateOlderThanEntryDate(resp, entry) {
		return
	}
	if etagsMatch(resp, entry) {
		return
	}
	inv.flushEntryAndVariants(ctx, uri)
}

func responseDateOlderThanEntryDate(resp *http.Response, entry *Entry) bool {
	respDate, err := http.ParseTime(resp.Header.Get(headerDate))
	if err != nil {
		return false
	}
	entryDate, ok := parseDateValue(entry.headers, headerDate)
	if !ok {
		return false
	}
	return respDate.Before(entryDate)
}

func etagsMatch(resp *http.Response, entry *Entry) bool {
	respETag := resp.Header.Get(headerETag)
	entryETag, _ := entry.FirstHeader(headerETag)
	if respETag == "" || entryETag == "" {
		return false
	}
	return respETag == entryETag
}

// resolveSameHost resolves ref (relative or absolute) against base and
// reports whether the result stays on base's authority.
func resolveSameHost(base *url.URL, ref string) (*url.URL, bool) {
	target, err := base.Parse(ref)
	if err != nil {
		return nil, false
	}
	if !strings.EqualFold(target.Host, base.Host) {
		return nil, false
	}
	return target, true
}
