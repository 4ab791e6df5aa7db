package inat

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the observation source API. The status
// code drives the sync error classifier, so it is preserved verbatim.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inat: %s returned %d", e.Endpoint, e.StatusCode)
}

// StatusOf extracts the HTTP status code from an error chain, or 0 when the
// error did not come from an API response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsAuthError reports whether the API rejected the caller's credential.
func IsAuthError(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsRateLimited reports whether the API throttled the request.
func IsRateLimited(err error) bool {
	return StatusOf(err) == http.StatusTooManyRequests
}
