package crmapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

var (
	// ErrEmptyBody is returned by Send when the message body is blank.
	ErrEmptyBody = errors.New("crmapi: message body is empty")
	// ErrInvalidTarget is returned when a fetch target does not name what the
	// endpoint requires.
	ErrInvalidTarget = errors.New("crmapi: invalid target")
	// ErrInvalidOpportunity is returned by Send without a positive opportunity id.
	ErrInvalidOpportunity = errors.New("crmapi: opportunity id must be positive")
)

// HTTPStatusError captures non-2xx backend responses. URL is already
// redacted and safe to log.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	URL        string
	Detail     string
}

func (e *HTTPStatusError) Error() string {
	status := http.StatusText(e.StatusCode)
	if status == "" {
		status = "status"
	}
	if e.Detail == "" {
		return fmt.Sprintf("crmapi: %s %s: %d %s", e.Method, e.URL, e.StatusCode, status)
	}
	return fmt.Sprintf("crmapi: %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, status, e.Detail)
}

// IsRetryable reports whether a later attempt of the same request may
// succeed: transport failures, 408, 429 and 5xx responses. Caller
// cancellation and request validation errors are not retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
