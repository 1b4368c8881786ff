package vision

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
)

// permanentError marks failures that retrying cannot fix (bad payloads, undecodable responses).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// IsRetryable reports whether a request failure is worth retrying: 429, 5xx and transport errors.
// Other 4xx responses and cancellations are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return true
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds. Zero means absent or unparsable.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// statusForRPCCode maps a per-image google.rpc.Status code to the HTTP status it corresponds to.
func statusForRPCCode(code int) int {
	switch code {
	case 8: // RESOURCE_EXHAUSTED
		return http.StatusTooManyRequests
	case 13, 14: // INTERNAL, UNAVAILABLE
		return http.StatusServiceUnavailable
	case 4: // DEADLINE_EXCEEDED
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}
