package httpcaching

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// basicCache ties key generation, storage, variant bookkeeping and the
// size-limited store decision together. It is the storage-facing half of the
// Transport; all policy decisions stay with the policy types.
type basicCache struct {
	keys          KeyGenerator
	storage       Storage
	resources     ResourceFactory
	maxObjectSize int64
	log           *slog.Logger
}

// getEntry resolves the entry that can answer req: the root entry when it
// has no variants, otherwise the variant entry matching the request's actual
// header values. A parent whose variant map has no matching key is a miss.
func (c *basicCache) getEntry(ctx context.Context, req *http.Request) (*Entry, bool, error) {
	root, ok, err := c.storage.GetEntry(ctx, c.keys.URI(req))
	if err != nil || !ok {
		return nil, false, err
	}
	if !root.HasVariants() {
		return root, true, nil
	}
	variantURI, ok := root.VariantMap()[c.keys.VariantKey(req, root)]
	if !ok {
		return nil, false, nil
	}
	return c.storage.GetEntry(ctx, variantURI)
}

// getVariants loads every stored variant referenced by the parent entry for
// req, keyed by variant key. Variants whose entries have gone missing are
// skipped.
func (c *basicCache) getVariants(ctx context.Context, req *http.Request) (map[string]Variant, error) {
	root, ok, err := c.storage.GetEntry(ctx, c.keys.URI(req))
	if err != nil || !ok || !root.HasVariants() {
		return nil, err
	}
	variants := make(map[string]Variant)
	for variantKey, variantURI := range root.VariantMap() {
		entry, ok, err := c.storage.GetEntry(ctx, variantURI)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		variants[variantKey] = Variant{VariantKey: variantKey, CacheKey: variantURI, Entry: entry}
	}
	return variants, nil
}

// store writes the entry under the appropriate key. Entries carrying a Vary
// header are stored under their variant URI, and the parent entry's variant
// map is updated atomically to reference them.
func (c *basicCache) store(ctx context.Context, req *http.Request, entry *Entry) error {
	if !entry.headers.Contains(headerVary) {
		return c.storage.PutEntry(ctx, c.keys.URI(req), entry)
	}

	variantKey := c.keys.VariantKey(req, entry)
	variantURI := c.keys.VariantURI(req, entry)
	if err := c.storage.PutEntry(ctx, variantURI, entry); err != nil {
		return err
	}
	return c.updateParentVariantMap(ctx, req, entry, variantKey, variantURI)
}

// reuseVariant points the parent entry's variant map at an existing variant
// after the origin confirmed it with a 304.
func (c *basicCache) reuseVariant(ctx context.Context, req *http.Request, variant Variant) error {
	return c.updateParentVariantMap(ctx, req, variant.Entry, c.keys.VariantKey(req, variant.Entry), variant.CacheKey)
}

func (c *basicCache) updateParentVariantMap(ctx context.Context, req *http.Request, entry *Entry, variantKey, variantURI string) error {
	parentURI := c.keys.URI(req)
	err := c.storage.UpdateEntry(ctx, parentURI, func(existing *Entry) (*Entry, error) {
		src := existing
		if src == nil {
			src = entry
		}
		variants := src.VariantMap()
		if variants == nil {
			variants = make(map[string]string, 1)
		}
		variants[variantKey] = variantURI
		return src.withVariantMap(variants), nil
	})
	if err != nil {
		c.log.Warn("could not update parent variant map", "key", parentURI, "error", err)
	}
	return err
}

// remove deletes the entry stored for req's canonical URI.
func (c *basicCache) remove(ctx context.Context, req *http.Request) error {
	return c.storage.RemoveEntry(ctx, c.keys.URI(req))
}

// probeResult is the outcome of a size-limited body read.
type probeResult struct {
	prefix       []byte
	limitReached bool
}

// probeBody reads up to maxObjectSize+1 bytes of body. When the limit is
// reached the response must not be cached, but the consumed prefix is kept
// so the caller's body can be reassembled without loss.
func (c *basicCache) probeBody(body io.Reader) (probeResult, error) {
	if body == nil {
		return probeResult{}, nil
	}
	buf, err := io.ReadAll(io.LimitReader(body, c.maxObjectSize+1))
	if err != nil {
		return probeResult{}, err
	}
	return probeResult{
		prefix:       buf,
		limitReached: int64(len(buf)) > c.maxObjectSize,
	}, nil
}

// cacheAndReturn makes the store decision for a full response whose headers
// already passed the cacheability policy. It returns the response the caller
// must receive: for bodies within the size limit that is the buffered body
// and the entry is stored; for oversized bodies the probe prefix is rejoined
// with the live stream and nothing is stored.
func (c *basicCache) cacheAndReturn(ctx context.Context, req *http.Request, resp *http.Response, requestDate, responseDate time.Time) (*http.Response, *Entry, error) {
	probe, err := c.probeBody(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if probe.limitReached {
		c.log.Debug("response body exceeds max object size, not caching",
			"url", req.URL.String(), "max", c.maxObjectSize)
		resp.Body = newCombinedReadCloser(probe.prefix, resp.Body)
		return resp, nil, nil
	}

	if resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck // fully consumed
	}

	resource, err := c.resources.Create(c.keys.URI(req), bytes.NewReader(probe.prefix))
	if err != nil {
		return nil, nil, err
	}
	entry := NewEntry(EntrySpec{
		RequestDate:  requestDate,
		ResponseDate: responseDate,
		StatusCode:   resp.StatusCode,
		Reason:       reasonPhrase(resp),
		ProtoMajor:   resp.ProtoMajor,
		ProtoMinor:   resp.ProtoMinor,
		Headers:      headersFromHTTP(resp.Header),
		Resource:     resource,
		HEADRequest:  req.Method == methodHEAD,
	})

	if err := c.store(ctx, req, entry); err != nil {
		// Cache writes are an optimization; the caller still gets the body.
		c.log.Warn("failed to store cache entry", "url", req.URL.String(), "error", err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(probe.prefix))
	return resp, entry, nil
}

func reasonPhrase(resp *http.Response) string {
	status := resp.Status
	if status == "" {
		return http.StatusText(resp.StatusCode)
	}
	// Status is "200 OK"; keep only the phrase.
	if len(status) > 4 {
		return status[4:]
	}
	return status
}
