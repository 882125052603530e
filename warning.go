package httpcaching

import (
	"net/http"
)

// addWarningHeader appends a Warning header per RFC 7234 Section 5.5.
// Warnings stack, so Add is used rather than Set.
func addWarningHeader(resp *http.Response, warning string) {
	resp.Header.Add(headerWarning, warning)
}

// addStaleWarning marks a response served past its freshness lifetime.
func addStaleWarning(resp *http.Response) {
	addWarningHeader(resp, warningStaleResponse)
}

// addRevalidationFailedWarning marks a stale response served because the
// origin could not be reached for revalidation.
func addRevalidationFailedWarning(resp *http.Response) {
	addWarningHeader(resp, warningRevalidationFailed)
}
