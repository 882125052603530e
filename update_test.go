package httpcaching

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func notModified(headers ...Header) *http.Response {
	resp := &http.Response{
		StatusCode: http.StatusNotModified,
		Header:     http.Header{},
	}
	for _, h := range headers {
		resp.Header.Add(h.Name, h.Value)
	}
	return resp
}

func TestUpdateEntryRejectsNon304(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body")

	_, err := u.UpdateEntry("req-1", e, baseTime, baseTime, &http.Response{StatusCode: http.StatusOK})
	if !errors.Is(err, ErrNotANotModifiedResponse) {
		t.Fatalf("err = %v, want ErrNotANotModifiedResponse", err)
	}
}

func TestUpdateEntryMergesHeaders(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body",
		Header{Name: headerCacheControl, Value: "max-age=60"},
		Header{Name: headerETag, Value: `"v1"`})

	later := baseTime.Add(time.Minute)
	resp := notModified(
		Header{Name: headerDate, Value: httpDate(later)},
		Header{Name: headerCacheControl, Value: "max-age=120"})

	updated, err := u.UpdateEntry("req-1", e, later, later, resp)
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := updated.FirstHeader(headerCacheControl); got != "max-age=120" {
		t.Errorf("Cache-Control = %q, want refreshed value", got)
	}
	if got, _ := updated.FirstHeader(headerETag); got != `"v1"` {
		t.Errorf("ETag = %q, want retained value", got)
	}
	if got, _ := updated.FirstHeader(headerDate); got != httpDate(later) {
		t.Errorf("Date = %q, want %q", got, httpDate(later))
	}
	if !updated.RequestDate().Equal(later) || !updated.ResponseDate().Equal(later) {
		t.Error("exchange dates not refreshed")
	}
	if updated.StatusCode() != e.StatusCode() {
		t.Error("status code changed by merge")
	}
}

func TestUpdateEntryReplacesAllInstancesOfAName(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body",
		Header{Name: headerWarning, Value: `214 - "transformed"`},
		Header{Name: headerWarning, Value: `299 - "misc"`})

	resp := notModified(
		Header{Name: headerDate, Value: httpDate(baseTime.Add(time.Minute))},
		Header{Name: headerWarning, Value: `214 - "still transformed"`})

	updated, err := u.UpdateEntry("req-1", e, baseTime, baseTime, resp)
	if err != nil {
		t.Fatal(err)
	}

	warnings := updated.HeaderValues(headerWarning)
	if len(warnings) != 1 || warnings[0] != `214 - "still transformed"` {
		t.Errorf("Warning headers = %v, want only the fresh value", warnings)
	}
}

func TestUpdateEntryStrips1xxWarnings(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body",
		Header{Name: headerWarning, Value: `110 - "response is stale"`},
		Header{Name: headerETag, Value: `"v1"`})

	resp := notModified(Header{Name: headerDate, Value: httpDate(baseTime.Add(time.Minute))})

	updated, err := u.UpdateEntry("req-1", e, baseTime, baseTime, resp)
	if err != nil {
		t.Fatal(err)
	}
	if ws := updated.HeaderValues(headerWarning); len(ws) != 0 {
		t.Errorf("Warning headers = %v, want 1xx warnings removed", ws)
	}
}

func TestUpdateEntryIgnoresStale304(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body",
		Header{Name: headerCacheControl, Value: "max-age=60"},
		Header{Name: headerWarning, Value: `110 - "Response is Stale"`})

	// 304 dated before the stored entry: a racing revalidation result.
	resp := notModified(
		Header{Name: headerDate, Value: httpDate(baseTime.Add(-time.Minute))},
		Header{Name: headerCacheControl, Value: "max-age=1"})

	updated, err := u.UpdateEntry("req-1", e, baseTime, baseTime, resp)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := updated.FirstHeader(headerCacheControl); got != "max-age=60" {
		t.Errorf("Cache-Control = %q, want stored headers kept", got)
	}
	if got, _ := updated.FirstHeader(headerDate); got != httpDate(baseTime) {
		t.Errorf("Date = %q, want stored Date kept", got)
	}
	// The stored headers win untouched, warnings included.
	if _, ok := updated.FirstHeader(headerWarning); !ok {
		t.Error("stored Warning dropped on ignored 304")
	}
}

func TestUpdateEntryIgnores304WithoutDate(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body",
		Header{Name: headerCacheControl, Value: "max-age=60"})

	resp := notModified(Header{Name: headerCacheControl, Value: "max-age=1"})

	updated, err := u.UpdateEntry("req-1", e, baseTime, baseTime, resp)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := updated.FirstHeader(headerCacheControl); got != "max-age=60" {
		t.Errorf("Cache-Control = %q, want stored headers kept", got)
	}
}

func TestUpdateEntryDoesNotMutateInput(t *testing.T) {
	u := EntryUpdater{}
	e := makeEntry(baseTime, "body",
		Header{Name: headerCacheControl, Value: "max-age=60"})

	resp := notModified(
		Header{Name: headerDate, Value: httpDate(baseTime.Add(time.Minute))},
		Header{Name: headerCacheControl, Value: "max-age=120"})

	if _, err := u.UpdateEntry("req-1", e, baseTime, baseTime, resp); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.FirstHeader(headerCacheControl); got != "max-age=60" {
		t.Errorf("input entry mutated: Cache-Control = %q", got)
	}
}

func TestUpdateEntryCopiesResource(t *testing.T) {
	u := EntryUpdater{Resources: HeapResourceFactory{}}
	e := makeEntry(baseTime, "payload")

	resp := notModified(Header{Name: headerDate, Value: httpDate(baseTime.Add(time.Minute))})

	updated, err := u.UpdateEntry("req-1", e, baseTime, baseTime, resp)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Resource() == e.Resource() {
		t.Error("resource handle shared, want copy")
	}
	got, err := updated.Resource().Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("copied resource = %q, want original body", got)
	}
}
