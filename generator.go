package httpcaching

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// responseGenerator reconstructs http.Responses from stored entries.
type responseGenerator struct {
	validity ValidityPolicy
}

// generate builds the response a client receives for a cache hit. The stored
// headers are replayed in order, the current age is stamped, and the body is
// reopened from the entry's resource. Entries recorded from HEAD exchanges
// produce no body.
func (g responseGenerator) generate(req *http.Request, entry *Entry, now time.Time) (*http.Response, error) {
	resp := &http.Response{
		StatusCode: entry.StatusCode(),
		Status:     fmt.Sprintf("%d %s", entry.StatusCode(), entry.Reason()),
		Proto:      fmt.Sprintf("HTTP/%d.%d", entry.ProtoMajor(), entry.ProtoMinor()),
		ProtoMajor: entry.ProtoMajor(),
		ProtoMinor: entry.ProtoMinor(),
		Header:     entry.Headers().ToHTTP(),
		Request:    req,
		Body:       http.NoBody,
	}

	if res := entry.Resource(); res != nil && !entry.HEADRequest() && req.Method != methodHEAD {
		body, err := res.Open()
		if err != nil {
			return nil, fmt.Errorf("open cached resource: %w", err)
		}
		resp.Body = body
		resp.ContentLength = res.Length()
		if len(resp.Header.Values("Transfer-Encoding")) == 0 {
			resp.Header.Set(headerContentLength, strconv.FormatInt(res.Length(), 10))
		}
	}

	if age := g.validity.CurrentAgeSecs(entry, now); age > 0 {
		if age > maxAgeSeconds {
			age = maxAgeSeconds
		}
		resp.Header.Set(headerAge, strconv.FormatInt(age, 10))
	}

	return resp, nil
}
