package httpcaching

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func httpDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// makeEntry builds an entry whose exchange completed instantly at date, with
// the given extra headers appended after Date.
func makeEntry(date time.Time, body string, extra ...Header) *Entry {
	headers := Headers{{Name: headerDate, Value: httpDate(date)}}
	headers = append(headers, extra...)

	var resource Resource
	if body != "" {
		resource = NewHeapResource([]byte(body))
	}
	return NewEntry(EntrySpec{
		RequestDate:  date,
		ResponseDate: date,
		StatusCode:   http.StatusOK,
		Reason:       "OK",
		ProtoMajor:   1,
		ProtoMinor:   1,
		Headers:      headers,
		Resource:     resource,
	})
}

func getRequest(t *testing.T, rawurl string) *http.Request {
	t.Helper()
	u, err := url.Parse(rawurl)
	if err != nil {
		t.Fatalf("bad url %q: %v", rawurl, err)
	}
	return &http.Request{Method: methodGET, URL: u, Header: make(http.Header)}
}
