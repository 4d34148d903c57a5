package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBudgetExceeded wraps the last fetch error once a page ran out of retries.
	ErrBudgetExceeded = errors.New("retry budget exceeded")
	// ErrFetcherUnavailable is returned when no usable page fetcher exists.
	ErrFetcherUnavailable = errors.New("page fetcher unavailable")
	// ErrMalformedPage marks a 2xx response whose body is not a listing page.
	ErrMalformedPage = errors.New("malformed page body")
)

// FailureKind classifies a failed fetch attempt.
type FailureKind string

// Failure classes used for backoff selection and metrics.
const (
	FailureStatus    FailureKind = "status"
	FailureMalformed FailureKind = "malformed"
	FailureNetwork   FailureKind = "network"
)

// FetchError describes one failed attempt. StatusCode is zero for network errors.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	Preview    string
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FailureStatus:
		return fmt.Sprintf("listing api returned status %d: %s", e.StatusCode, e.Preview)
	case FailureMalformed:
		return fmt.Sprintf("%v (status %d, body %q)", e.Err, e.StatusCode, e.Preview)
	default:
		return fmt.Sprintf("listing api request failed: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the attempt was throttled by the API.
func (e *FetchError) IsRateLimited() bool {
	return e.Kind == FailureStatus && e.StatusCode == http.StatusTooManyRequests
}

// ClassifyFailure returns the failure class of err, defaulting to network.
func ClassifyFailure(err error) FailureKind {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind != "" {
		return fetchErr.Kind
	}
	return FailureNetwork
}

// IsRateLimited reports whether err carries an HTTP 429.
func IsRateLimited(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.IsRateLimited()
}
