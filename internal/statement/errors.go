package statement

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportTimeout means a single HTTP round-trip (submission or poll)
	// exceeded the transport timeout before the endpoint answered.
	ErrTransportTimeout = errors.New("transport timeout")

	// ErrStatementTimeout means the poll ceiling was reached without a final result.
	ErrStatementTimeout = errors.New("timeout waiting for statement")

	// ErrCancelled means the caller withdrew interest. No further requests are issued.
	ErrCancelled = errors.New("statement cancelled")

	// ErrNoStatusURL means a 202 arrived without anything to poll.
	ErrNoStatusURL = errors.New("no statement status url")
)

// PollError is an unexpected status while polling for completion.
type PollError struct {
	Status int
	Body   string
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll error: HTTP %d %s", e.Status, e.Body)
}

// UpstreamError is an unusable answer to the initial submission: a
// non-success status, or a 202 with nothing to poll (Err is ErrNoStatusURL).
type UpstreamError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("SQL API error on %s: HTTP %d %s: %v", e.URL, e.Status, e.Body, e.Err)
	}
	return fmt.Sprintf("SQL API error on %s: HTTP %d %s", e.URL, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Kind names the error class for logs and metrics.
func Kind(err error) string {
	var pollErr *PollError
	var upstreamErr *UpstreamError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTransportTimeout):
		return "transport_timeout"
	case errors.Is(err, ErrStatementTimeout):
		return "statement_timeout"
	case errors.As(err, &pollErr):
		return "poll_error"
	case errors.As(err, &upstreamErr):
		return "upstream_error"
	default:
		return "error"
	}
}

// Retryable reports whether the same statement may succeed if submitted again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrStatementTimeout)
}
