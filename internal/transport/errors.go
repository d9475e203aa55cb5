package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchError is the terminal error for one page fetch. It survives into the
// run summary, so it carries everything a report needs: the URL, the last
// status seen and how many attempts were made.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusClass buckets a status code for metrics labels ("2xx", "4xx", ...).
// Zero means the request never produced a response.
func StatusClass(code int) string {
	if code <= 0 {
		return "none"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// retryableStatus reports whether a status code is worth another attempt.
// Server errors and throttling are transient; everything else in the 4xx
// range is the server telling us to stop asking.
func retryableStatus(code int) bool {
	return code >= 500 || code == 429
}

// retryableError reports whether a transport-level error is worth another
// attempt. Context cancellation is the caller's decision and never retried.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.StatusCode > 0 {
		return retryableStatus(fe.StatusCode)
	}
	return true
}
