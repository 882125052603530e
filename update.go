package httpcaching

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotANotModifiedResponse is returned when UpdateEntry receives anything
// other than a 304. Merging a full response is a contract violation, not a
// retryable condition.
var ErrNotANotModifiedResponse = fmt.Errorf("cache entry update requires a 304 Not Modified response")

// EntryUpdater merges a 304 Not Modified response into an existing entry,
// producing a new immutable entry with refreshed dates and headers.
type EntryUpdater struct {
	// Resources, when set, duplicates the old entry's body into new storage
	// so the updated entry owns its resource. When nil the old body handle
	// is shared, which is safe because a 304 never carries a body.
	Resources ResourceFactory
}

// UpdateEntry applies the header merge of RFC 2616 Section 10.3.5: header
// names present on the 304 replace every old instance of that name, names
// absent from the 304 are retained, and 1xx Warning values are stripped. The
// merge is skipped entirely when the 304's Date is missing, unparseable, or
// older than the stored entry's Date, protecting against racing out-of-order
// revalidations. The input entry is never mutated.
func (u EntryUpdater) UpdateEntry(requestID string, entry *Entry, requestDate, responseDate time.Time, resp *http.Response) (*Entry, error) {
	if resp.StatusCode != http.StatusNotModified {
		return nil, fmt.Errorf("%w (got %d)", ErrNotANotModifiedResponse, resp.StatusCode)
	}

	merged := mergeHeaders(entry.headers, headersFromHTTP(resp.Header))

	resource := entry.Resource()
	if u.Resources != nil && resource != nil {
		copied, err := u.Resources.Copy(requestID, resource)
		if err != nil {
			return nil, fmt.Errorf("copying resource for updated entry: %w", err)
		}
		resource = copied
	}

	return NewEntry(EntrySpec{
		RequestDate:  requestDate,
		ResponseDate: responseDate,
		StatusCode:   entry.statusCode,
		Reason:       entry.reason,
		ProtoMajor:   entry.protoMajor,
		ProtoMinor:   entry.protoMinor,
		Headers:      merged,
		Resource:     resource,
		Variants:     entry.variants,
		HEADRequest:  entry.headRequest,
	}), nil
}

// mergeHeaders combines the stored entry headers with those of a 304
// response, replacing by name and dropping stale-condition warnings.
func mergeHeaders(old, fresh Headers) Headers {
	if entryDateNewerThanResponse(old, fresh) {
		return old.Clone()
	}

	replaced := make(map[string]bool, len(fresh))
	for _, h := range fresh {
		replaced[strings.ToLower(h.Name)] = true
	}

	merged := make(Headers, 0, len(old)+len(fresh))
	for _, h := range old {
		if !replaced[strings.ToLower(h.Name)] {
			merged = append(merged, h)
		}
	}
	merged = append(merged, fresh...)
	return stripStaleWarnings(merged)
}

// entryDateNewerThanResponse detects a racing revalidation: the stored entry
// already carries a Date newer than the incoming 304, or the 304's Date
// cannot be trusted at all.
func entryDateNewerThanResponse(old, fresh Headers) bool {
	respDate, ok := parseDateValue(fresh, headerDate)
	if !ok {
		return true
	}
	entryDate, ok := parseDateValue(old, headerDate)
	if !ok {
		return false
	}
	return entryDate.After(respDate)
}

// stripStaleWarnings removes Warning headers with 1xx codes; those describe
// staleness conditions that no longer hold after a successful revalidation.
func stripStaleWarnings(hs Headers) Headers {
	out := hs[:0]
	for _, h := range hs {
		if strings.EqualFold(h.Name, headerWarning) && strings.HasPrefix(strings.TrimSpace(h.Value), "1") {
			continue
		}
		out = append(out, h)
	}
	return out
}
