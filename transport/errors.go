package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/unkn0wn-root/bulwark/breaker"
)

// ErrRetriesExhausted is returned if the retry loop ends without a terminal
// outcome. It should not happen in practice.
var ErrRetriesExhausted = errors.New("transport: retries exhausted")

// CircuitOpenError rejects a request before any I/O. It carries the host
// and the earliest time it may be tried again.
type CircuitOpenError = breaker.OpenError

// HTTPError is a terminal non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	Status     int
	StatusText string
	Body       []byte
	Data       any // parsed body, see Response.Data
	Retryable  bool
	Attempts   int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("transport: %s %s: HTTP %d %s", e.Method, e.URL, e.Status, e.StatusText)
}

// ProtocolError is an application-level failure carried by an otherwise
// successful response. It is never retried.
type ProtocolError struct {
	URL         string
	Status      int
	Code        string
	Description string
	Body        []byte
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("transport: protocol error from ")
	b.WriteString(e.URL)
	b.WriteString(": ")
	b.WriteString(e.Code)
	if e.Description != "" {
		b.WriteString(" - ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// AttemptError wraps the last network failure after retries ran out.
type AttemptError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("transport: %s %s failed after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// IsRetryable reports whether err describes a transient failure: a network
// error, a per-attempt timeout, or an HTTPError flagged retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable
	}
	var pe *ProtocolError
	if errors.As(err, &pe) || errors.Is(err, breaker.ErrOpen) {
		return false
	}
	var ae *AttemptError
	return errors.As(err, &ae)
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "status " + fmt.Sprint(code)
}
