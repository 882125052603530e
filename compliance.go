package httpcaching

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RequestCompliance normalizes requests to be protocol-legal before any
// other component reasons about them.
type RequestCompliance struct{}

// freshness directives that must not accompany no-cache on a request.
var disallowedWithNoCache = map[string]bool{
	cacheControlMinFresh: true,
	cacheControlMaxStale: true,
	cacheControlMaxAge:   true,
}

// MakeCompliant returns a protocol-legal version of req. The original
// request is never mutated; when nothing needs fixing it is returned as-is.
func (RequestCompliance) MakeCompliant(req *http.Request) *http.Request {
	out := req

	if stripped, changed := stripFreshnessDirectivesWithNoCache(req.Header); changed {
		out = cloneRequest(out)
		if stripped == "" {
			out.Header.Del(headerCacheControl)
		} else {
			out.Header.Set(headerCacheControl, stripped)
		}
	}

	if out.ProtoMajor < 1 || (out.ProtoMajor == 1 && out.ProtoMinor == 0) ||
		(out.ProtoMajor == 1 && out.ProtoMinor > 1) {
		if out == req {
			out = cloneRequest(out)
		}
		out.Proto = "HTTP/1.1"
		out.ProtoMajor = 1
		out.ProtoMinor = 1
	}

	if out.Method == methodOPTIONS {
		if mf := out.Header.Get("Max-Forwards"); mf != "" {
			if n, err := strconv.Atoi(mf); err == nil && n > 0 {
				if out == req {
					out = cloneRequest(out)
				}
				out.Header.Set("Max-Forwards", strconv.Itoa(n-1))
			}
		}
	}

	return out
}

// stripFreshnessDirectivesWithNoCache removes min-fresh/max-stale/max-age
// when no-cache is present on the same request; the combination is
// contradictory and no-cache wins.
func stripFreshnessDirectivesWithNoCache(h http.Header) (string, bool) {
	directives := requestDirectives(h, headerCacheControl)
	shouldStrip := false
	for _, d := range directives {
		if d.name == cacheControlNoCache {
			shouldStrip = true
			break
		}
	}
	if !shouldStrip {
		return "", false
	}

	var kept []string
	for _, d := range directives {
		if disallowedWithNoCache[d.name] {
			continue
		}
		if d.hasValue {
			kept = append(kept, d.name+"="+d.value)
		} else {
			kept = append(kept, d.name)
		}
	}
	return strings.Join(kept, ", "), true
}

// ResponseCompliance normalizes origin responses before policy evaluation
// and storage.
type ResponseCompliance struct{}

// EnsureCompliance fixes up resp in place. It returns an error only for
// responses that are fatally non-compliant and must not be relayed.
func (ResponseCompliance) EnsureCompliance(req *http.Request, resp *http.Response) error {
	if req.Header.Get("Range") == "" && resp.Header.Get("Content-Range") != "" {
		return fmt.Errorf("origin returned Content-Range for a request without Range")
	}

	stripIdentityContentEncoding(resp.Header)
	stripWarningsWithMismatchedDates(resp.Header)

	// A missing Date makes every downstream temporal computation degrade to
	// the revalidation-biased sentinel; stamp receipt time instead.
	if resp.Header.Get(headerDate) == "" {
		resp.Header.Set(headerDate, time.Now().UTC().Format(http.TimeFormat))
	}

	if resp.StatusCode == http.StatusNotModified && resp.Body != nil {
		// 304 carries no body; drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<15)) //nolint:errcheck // best effort
	}

	return nil
}

// stripIdentityContentEncoding removes the meaningless "identity" token from
// Content-Encoding header values.
func stripIdentityContentEncoding(h http.Header) {
	values := h.Values("Content-Encoding")
	if len(values) == 0 {
		return
	}
	var out []string
	modified := false
	for _, v := range values {
		var kept []string
		for _, elt := range strings.Split(v, ",") {
			elt = strings.TrimSpace(elt)
			if strings.EqualFold(elt, "identity") {
				modified = true
				continue
			}
			if elt != "" {
				kept = append(kept, elt)
			}
		}
		if len(kept) > 0 {
			out = append(out, strings.Join(kept, ","))
		}
	}
	if !modified {
		return
	}
	h.Del("Content-Encoding")
	for _, v := range out {
		h.Add("Content-Encoding", v)
	}
}

// stripWarningsWithMismatchedDates drops Warning values whose warn-date
// disagrees with the response Date (RFC 2616 Section 14.46).
func stripWarningsWithMismatchedDates(h http.Header) {
	dateHdr := h.Get(headerDate)
	if dateHdr == "" {
		return
	}
	respDate, err := http.ParseTime(dateHdr)
	if err != nil {
		return
	}

	warnings := h.Values(headerWarning)
	if len(warnings) == 0 {
		return
	}
	var kept []string
	modified := false
	for _, w := range warnings {
		if warnDate, ok := warningDate(w); ok && !warnDate.Equal(respDate) {
			modified = true
			continue
		}
		kept = append(kept, w)
	}
	if !modified {
		return
	}
	h.Del(headerWarning)
	for _, w := range kept {
		h.Add(headerWarning, w)
	}
}

// warningDate extracts the optional trailing warn-date of a Warning value:
// `code agent "text" "HTTP-date"`.
func warningDate(warning string) (time.Time, bool) {
	warning = strings.TrimSpace(warning)
	if !strings.HasSuffix(warning, `"`) {
		return time.Time{}, false
	}
	// Find the quoted section preceding the closing quote.
	inner := warning[:len(warning)-1]
	idx := strings.LastIndex(inner, `"`)
	if idx < 0 {
		return time.Time{}, false
	}
	candidate := inner[idx+1:]
	t, err := http.ParseTime(candidate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
