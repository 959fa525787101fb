package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. HTTPError unwraps to one of them so callers can match
// on the class of failure with errors.Is.
var (
	// ErrUnreachable covers transport failures and gateway errors. The
	// request may be retried on the next cycle.
	ErrUnreachable = errors.New("remote: backend unreachable")

	// ErrUnauthorized means the backend refused the credential, or no
	// usable credential was available.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrRejected means the backend understood the request and refused it.
	ErrRejected = errors.New("remote: request rejected")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("remote: not found")

	// ErrServer covers other non-2xx responses.
	ErrServer = errors.New("remote: server error")
)

// HTTPError describes a non-2xx response.
type HTTPError struct {
	Operation  string
	StatusCode int
	Message    string
	kind       error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote: %s: http %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote: %s: http %d", e.Operation, e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.kind
}

// classify maps an HTTP status to a sentinel.
func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status == http.StatusTooManyRequests:
		return ErrUnreachable
	case status >= 400 && status < 500:
		return ErrRejected
	default:
		return ErrServer
	}
}
