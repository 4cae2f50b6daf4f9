package nitro

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned by NewClient when the endpoint or the
// API key is not configured.
var ErrMissingCredentials = errors.New("nitro: base URL and API key are required")

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 512

// TransportError is a network failure or a non-2xx HTTP status.
type TransportError struct {
	StatusCode int // zero for network failures
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return "nitro transport: " + e.Err.Error()
	}
	return fmt.Sprintf("nitro http %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError is a JSON-RPC error envelope returned by the backend.
type BackendError struct {
	Code    int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("nitro error %d: %s", e.Code, e.Message)
}

// MalformedStreamError means an event stream ended without a single
// parseable payload.
type MalformedStreamError struct {
	DataLines int // data lines seen, parseable or not
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("nitro: no valid data found in event stream (%d data lines)", e.DataLines)
}
