package enhancer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Failure classes of an APIError. Use errors.Is to test for them.
var (
	ErrTimeout    = errors.New("request timed out")
	ErrConnection = errors.New("connection failed")
	ErrStatus     = errors.New("unexpected http status")
	ErrResponse   = errors.New("malformed response")
)

// ErrClosed is returned when an enhancer is used after Close.
var ErrClosed = errors.New("enhancer: client closed")

// APIError describes a failed call to the generation service.
type APIError struct {
	Kind       error // one of ErrTimeout, ErrConnection, ErrStatus, ErrResponse
	Op         string
	URL        string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Is matches the failure class so errors.Is(err, ErrTimeout) works on wrapped
// errors.
func (e *APIError) Is(target error) bool { return target == e.Kind }

// KindName returns a short name for the failure class of err, or "" when err
// is not an *APIError.
func KindName(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	switch apiErr.Kind {
	case ErrTimeout:
		return "timeout"
	case ErrConnection:
		return "connection"
	case ErrStatus:
		return "status"
	case ErrResponse:
		return "response"
	}
	return "unknown"
}

// ClassifyTransport maps a transport level error onto a failure class.
func ClassifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return ErrConnection
}
