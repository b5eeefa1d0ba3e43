package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured is wrapped by every ConfigurationError.
	ErrNotConfigured = errors.New("client not configured")
	// ErrClosed is wrapped by the NetworkError of calls cut short by Close.
	ErrClosed = errors.New("transport closed")
)

// ConfigurationError means no usable endpoint was configured. No network
// activity happens for a call that fails this way.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrNotConfigured, e.Err}
}

// TimeoutError means the call did not settle within Timeout and its request
// was cancelled.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %dms", e.Timeout.Milliseconds())
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// HTTPError is a non-2xx reply.
type HTTPError struct {
	StatusCode int
	StatusText string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.StatusText)
}

// NetworkError is a transport-level failure: DNS, refused or reset
// connections, aborted requests.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError means the reply body was not valid JSON.
type DecodeError struct {
	Err  error
	Body []byte // first bytes of the body, for diagnostics
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
