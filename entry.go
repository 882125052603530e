package httpcaching

import (
	"fmt"
	"time"
)

// Entry is an immutable snapshot of a cacheable response. The request and
// response dates bracket the exchange that produced it; headers keep their
// original order and duplicates. Any update after revalidation produces a new
// Entry sharing the old Resource unless the body itself changed.
type Entry struct {
	requestDate  time.Time
	responseDate time.Time
	statusCode   int
	reason       string
	protoMajor   int
	protoMinor   int
	headers      Headers
	resource     Resource
	variants     map[string]string
	headRequest  bool
}

// EntrySpec carries the inputs for NewEntry. All fields are copied; the
// caller keeps no aliases into the constructed Entry except the Resource,
// whose ownership transfers to the Entry.
type EntrySpec struct {
	RequestDate  time.Time
	ResponseDate time.Time
	StatusCode   int
	Reason       string
	ProtoMajor   int
	ProtoMinor   int
	Headers      Headers
	Resource     Resource
	// Variants maps variant keys to the storage keys holding each variant's
	// full entry. Only parent entries of Vary responses carry it.
	Variants map[string]string
	// HEADRequest marks entries stored from a HEAD exchange.
	HEADRequest bool
}

// NewEntry constructs an immutable cache entry.
func NewEntry(spec EntrySpec) *Entry {
	var variants map[string]string
	if len(spec.Variants) > 0 {
		variants = make(map[string]string, len(spec.Variants))
		for k, v := range spec.Variants {
			variants[k] = v
		}
	}
	return &Entry{
		requestDate:  spec.RequestDate,
		responseDate: spec.ResponseDate,
		statusCode:   spec.StatusCode,
		reason:       spec.Reason,
		protoMajor:   spec.ProtoMajor,
		protoMinor:   spec.ProtoMinor,
		headers:      spec.Headers.Clone(),
		resource:     spec.Resource,
		variants:     variants,
		headRequest:  spec.HEADRequest,
	}
}

// RequestDate returns the wall-clock time the originating request was sent.
func (e *Entry) RequestDate() time.Time { return e.requestDate }

// ResponseDate returns the wall-clock time the response was received.
func (e *Entry) ResponseDate() time.Time { return e.responseDate }

// StatusCode returns the stored response status.
func (e *Entry) StatusCode() int { return e.statusCode }

// Reason returns the stored reason phrase.
func (e *Entry) Reason() string { return e.reason }

// ProtoMajor and ProtoMinor return the stored protocol version.
func (e *Entry) ProtoMajor() int { return e.protoMajor }
func (e *Entry) ProtoMinor() int { return e.protoMinor }

// Headers returns a copy of the stored header sequence.
func (e *Entry) Headers() Headers { return e.headers.Clone() }

// FirstHeader returns the first value of the named header.
func (e *Entry) FirstHeader(name string) (string, bool) {
	return e.headers.First(name)
}

// HeaderValues returns all values of the named header, in order.
func (e *Entry) HeaderValues(name string) []string {
	return e.headers.Values(name)
}

// Resource returns the body handle. May be nil for bodyless entries.
func (e *Entry) Resource() Resource { return e.resource }

// HasVariants reports whether this entry is the parent of Vary variants.
func (e *Entry) HasVariants() bool { return len(e.variants) > 0 }

// VariantMap returns a copy of the variant-key to storage-key mapping.
func (e *Entry) VariantMap() map[string]string {
	if e.variants == nil {
		return nil
	}
	out := make(map[string]string, len(e.variants))
	for k, v := range e.variants {
		out[k] = v
	}
	return out
}

// HEADRequest reports whether the entry was stored from a HEAD response.
func (e *Entry) HEADRequest() bool { return e.headRequest }

// withVariantMap returns a copy of the entry carrying the given variant map.
func (e *Entry) withVariantMap(variants map[string]string) *Entry {
	out := *e
	out.headers = e.headers.Clone()
	out.variants = make(map[string]string, len(variants))
	for k, v := range variants {
		out.variants[k] = v
	}
	return &out
}

func (e *Entry) String() string {
	return fmt.Sprintf("[request date=%s; response date=%s; status=%d]",
		e.requestDate.Format(time.RFC3339), e.responseDate.Format(time.RFC3339), e.statusCode)
}

// Variant pairs a request's base cache key with the variant-specific key and
// the entry it identifies. It is used while building multi-variant
// conditional requests and while reusing a variant after a 304.
type Variant struct {
	VariantKey string
	CacheKey   string
	Entry      *Entry
}
