package gitlab

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned by NewClient when no server or token is set.
// It is surfaced before any fetch attempt is made.
var ErrNotConfigured = errors.New("gitlab server and token are not configured")

// TransportError is a network-level failure reaching GitLab (connection
// refused, timeout, cancelled context). The remote never produced a response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "gitlab unreachable: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a transport-level failure.
func IsUnavailable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// APIError is a non-2xx response from GitLab. It is distinct from transport
// failures, which come back as *TransportError.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitlab: %s %s returned %d", e.Method, e.Path, e.StatusCode)
}

// NotFound reports whether the remote rejected the request with a 404.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsRejected reports whether err is a non-2xx remote response.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
