package httpcaching

import (
	"net/http"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApparentAge(t *testing.T) {
	p := ValidityPolicy{}

	// Response received 10s after the origin stamped Date.
	e := NewEntry(EntrySpec{
		RequestDate:  baseTime.Add(9 * time.Second),
		ResponseDate: baseTime.Add(10 * time.Second),
		StatusCode:   200,
		Headers:      Headers{{Name: headerDate, Value: httpDate(baseTime)}},
	})
	if got := p.ApparentAgeSecs(e); got != 10 {
		t.Errorf("ApparentAgeSecs = %d, want 10", got)
	}

	// Clock skew: Date in the future clamps to zero.
	e = NewEntry(EntrySpec{
		RequestDate:  baseTime,
		ResponseDate: baseTime,
		StatusCode:   200,
		Headers:      Headers{{Name: headerDate, Value: httpDate(baseTime.Add(time.Hour))}},
	})
	if got := p.ApparentAgeSecs(e); got != 0 {
		t.Errorf("ApparentAgeSecs with future Date = %d, want 0", got)
	}

	// Missing Date degrades to the sentinel.
	e = NewEntry(EntrySpec{RequestDate: baseTime, ResponseDate: baseTime, StatusCode: 200})
	if got := p.ApparentAgeSecs(e); got != maxAgeSeconds {
		t.Errorf("ApparentAgeSecs without Date = %d, want sentinel", got)
	}
}

func TestCorrectedReceivedAgeUsesLargerOfApparentAndAgeHeader(t *testing.T) {
	p := ValidityPolicy{}
	e := makeEntry(baseTime, "", Header{Name: headerAge, Value: "30"})
	if got := p.CorrectedReceivedAgeSecs(e); got != 30 {
		t.Errorf("CorrectedReceivedAgeSecs = %d, want 30", got)
	}

	// Malformed Age counts as the sentinel maximum.
	e = makeEntry(baseTime, "", Header{Name: headerAge, Value: "bogus"})
	if got := p.CorrectedReceivedAgeSecs(e); got != maxAgeSeconds {
		t.Errorf("CorrectedReceivedAgeSecs with malformed Age = %d, want sentinel", got)
	}
}

func TestCurrentAge(t *testing.T) {
	p := ValidityPolicy{}
	e := NewEntry(EntrySpec{
		RequestDate:  baseTime,
		ResponseDate: baseTime.Add(2 * time.Second),
		StatusCode:   200,
		Headers:      Headers{{Name: headerDate, Value: httpDate(baseTime)}},
	})

	// apparent age 2 + response delay 2 + 60s resident.
	now := baseTime.Add(2 * time.Second).Add(60 * time.Second)
	if got := p.CurrentAgeSecs(e, now); got != 64 {
		t.Errorf("CurrentAgeSecs = %d, want 64", got)
	}
}

func TestFreshnessLifetime(t *testing.T) {
	p := ValidityPolicy{}

	e := makeEntry(baseTime, "", Header{Name: headerCacheControl, Value: "max-age=300"})
	if got := p.FreshnessLifetimeSecs(e); got != 300 {
		t.Errorf("max-age lifetime = %d, want 300", got)
	}

	// Most restrictive wins across instances.
	e = makeEntry(baseTime, "",
		Header{Name: headerCacheControl, Value: "max-age=300"},
		Header{Name: headerCacheControl, Value: "max-age=60"})
	if got := p.FreshnessLifetimeSecs(e); got != 60 {
		t.Errorf("restrictive lifetime = %d, want 60", got)
	}

	// Malformed max-age forces zero.
	e = makeEntry(baseTime, "", Header{Name: headerCacheControl, Value: "max-age=abc"})
	if got := p.FreshnessLifetimeSecs(e); got != 0 {
		t.Errorf("malformed max-age lifetime = %d, want 0", got)
	}

	// Expires - Date fallback.
	e = makeEntry(baseTime, "", Header{Name: headerExpires, Value: httpDate(baseTime.Add(10 * time.Minute))})
	if got := p.FreshnessLifetimeSecs(e); got != 600 {
		t.Errorf("Expires lifetime = %d, want 600", got)
	}
}

func TestSMaxAgeOnlyForSharedCaches(t *testing.T) {
	e := makeEntry(baseTime, "", Header{Name: headerCacheControl, Value: "max-age=600, s-maxage=60"})

	private := ValidityPolicy{}
	if got := private.FreshnessLifetimeSecs(e); got != 600 {
		t.Errorf("private lifetime = %d, want 600", got)
	}
	shared := ValidityPolicy{Shared: true}
	if got := shared.FreshnessLifetimeSecs(e); got != 60 {
		t.Errorf("shared lifetime = %d, want 60", got)
	}
}

func TestIsResponseFreshEqualityIsStale(t *testing.T) {
	p := ValidityPolicy{}
	e := makeEntry(baseTime, "", Header{Name: headerCacheControl, Value: "max-age=60"})

	if !p.IsResponseFresh(e, baseTime.Add(59*time.Second)) {
		t.Error("entry below lifetime reported stale")
	}
	if p.IsResponseFresh(e, baseTime.Add(60*time.Second)) {
		t.Error("entry exactly at lifetime reported fresh")
	}
}

func TestHeuristicFreshness(t *testing.T) {
	p := ValidityPolicy{}

	// Date - Last-Modified = 1000s, coefficient 0.1 -> 100s lifetime.
	e := makeEntry(baseTime, "",
		Header{Name: headerLastModified, Value: httpDate(baseTime.Add(-1000 * time.Second))})
	if got := p.HeuristicFreshnessLifetimeSecs(e, 0.1, 5); got != 100 {
		t.Errorf("heuristic lifetime = %d, want 100", got)
	}

	// No Last-Modified falls back to the default.
	e = makeEntry(baseTime, "")
	if got := p.HeuristicFreshnessLifetimeSecs(e, 0.1, 5); got != 5 {
		t.Errorf("heuristic default = %d, want 5", got)
	}

	if !p.IsResponseHeuristicallyFresh(e, baseTime.Add(3*time.Second), 0.1, 5) {
		t.Error("entry within heuristic lifetime reported stale")
	}
}

func TestIsRevalidatable(t *testing.T) {
	p := ValidityPolicy{}
	if p.IsRevalidatable(makeEntry(baseTime, "")) {
		t.Error("entry without validators reported revalidatable")
	}
	if !p.IsRevalidatable(makeEntry(baseTime, "", Header{Name: headerETag, Value: `"v1"`})) {
		t.Error("entry with ETag not revalidatable")
	}
	if !p.IsRevalidatable(makeEntry(baseTime, "", Header{Name: headerLastModified, Value: httpDate(baseTime)})) {
		t.Error("entry with Last-Modified not revalidatable")
	}
}

func TestStaleness(t *testing.T) {
	p := ValidityPolicy{}
	e := makeEntry(baseTime, "", Header{Name: headerCacheControl, Value: "max-age=60"})

	if got := p.StalenessSecs(e, baseTime.Add(30*time.Second)); got != 0 {
		t.Errorf("fresh staleness = %d, want 0", got)
	}
	if got := p.StalenessSecs(e, baseTime.Add(90*time.Second)); got != 30 {
		t.Errorf("staleness = %d, want 30", got)
	}
}

func TestMayReturnStaleWhileRevalidating(t *testing.T) {
	p := ValidityPolicy{}
	e := makeEntry(baseTime, "",
		Header{Name: headerCacheControl, Value: "max-age=60, stale-while-revalidate=30"})

	if !p.MayReturnStaleWhileRevalidating(e, baseTime.Add(80*time.Second)) {
		t.Error("staleness 20 not covered by window 30")
	}
	if p.MayReturnStaleWhileRevalidating(e, baseTime.Add(100*time.Second)) {
		t.Error("staleness 40 covered by window 30")
	}

	// Malformed window is skipped.
	e = makeEntry(baseTime, "",
		Header{Name: headerCacheControl, Value: "max-age=60, stale-while-revalidate=x"})
	if p.MayReturnStaleWhileRevalidating(e, baseTime.Add(70*time.Second)) {
		t.Error("malformed window honored")
	}
}

func TestMayReturnStaleIfError(t *testing.T) {
	p := ValidityPolicy{}

	// Window on the response.
	e := makeEntry(baseTime, "",
		Header{Name: headerCacheControl, Value: "max-age=60, stale-if-error=120"})
	if !p.MayReturnStaleIfError(http.Header{}, e, baseTime.Add(100*time.Second)) {
		t.Error("response stale-if-error window not honored")
	}
	if p.MayReturnStaleIfError(http.Header{}, e, baseTime.Add(300*time.Second)) {
		t.Error("expired response window honored")
	}

	// Window on the request.
	e = makeEntry(baseTime, "", Header{Name: headerCacheControl, Value: "max-age=60"})
	req := http.Header{}
	req.Set(headerCacheControl, "stale-if-error=120")
	if !p.MayReturnStaleIfError(req, e, baseTime.Add(100*time.Second)) {
		t.Error("request stale-if-error window not honored")
	}
}

func TestContentLengthValue(t *testing.T) {
	p := ValidityPolicy{}
	e := makeEntry(baseTime, "", Header{Name: headerContentLength, Value: "42"})
	if got := p.ContentLengthValue(e); got != 42 {
		t.Errorf("ContentLengthValue = %d, want 42", got)
	}
	if got := p.ContentLengthValue(makeEntry(baseTime, "")); got != -1 {
		t.Errorf("missing Content-Length = %d, want -1", got)
	}
}
