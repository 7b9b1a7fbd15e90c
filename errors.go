package resilience

import (
	"context"
	"errors"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrorClassifier determines whether an error should trigger a retry.
// Implement this interface to customize retry behavior for your specific
// error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// FailureClassifier determines whether an error counts toward a circuit
// breaker's failure budget. Errors not classified as failures leave the
// breaker's counters untouched even though they are surfaced to the caller.
type FailureClassifier interface {
	// IsFailure returns true if the error should count as a failure for
	// circuit breaking purposes.
	IsFailure(err error) bool
}

// HTTPError represents an error with an associated HTTP status code.
// Many HTTP client libraries provide errors that implement this interface.
type HTTPError interface {
	error
	StatusCode() int
}

// retryableStatuses is the default allow-list of status codes treated as
// transient: request timeout, rate limiting, and server errors.
var retryableStatuses = []int{408, 429, 500, 502, 503, 504}

// DefaultRetryable reports whether err is worth retrying under the default
// classification rules:
//
//   - nil is not retryable
//   - context cancellation and deadline errors are not retryable, since
//     retrying with the same context fails immediately
//   - circuit breaker rejections are not retryable; the circuit will not
//     close within a retry backoff window
//   - rate-limit and timeout sentinels are retryable
//   - errors carrying no status code are retryable (network faults and
//     other unclassified errors fail open toward retrying)
//   - status codes 408, 429, 500, 502, 503, 504 are retryable; any other
//     status present on the error is not
//
// It is exported standalone so callers can reuse it inside their own
// classifiers.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check context errors FIRST: context.DeadlineExceeded may also be
	// considered a timeout by other error checkers.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, jperrors.ErrCircuitOpen) || errors.Is(err, jperrors.ErrCircuitHalfOpen) {
		return false
	}

	if errors.Is(err, jperrors.ErrRateLimited) {
		return true
	}
	if jperrors.IsTimeout(err) {
		return true
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		return true
	}

	return containsStatus(retryableStatuses, statusCode)
}

// retryableFunc adapts a predicate function to ErrorClassifier.
type retryableFunc func(err error) bool

func (f retryableFunc) IsRetryable(err error) bool { return f(err) }

// DefaultRetryClassifier returns the classifier used when no custom
// classifier is configured on a Retry decorator. It applies
// DefaultRetryable.
func DefaultRetryClassifier() ErrorClassifier {
	return retryableFunc(DefaultRetryable)
}

// RetryableFunc wraps a predicate function as an ErrorClassifier.
//
// Example:
//
//	resilience.WithRetryClassifier(resilience.RetryableFunc(func(err error) bool {
//	    return errors.Is(err, io.ErrUnexpectedEOF)
//	}))
func RetryableFunc(f func(err error) bool) ErrorClassifier {
	return retryableFunc(f)
}

// failureFunc adapts a predicate function to FailureClassifier.
type failureFunc func(err error) bool

func (f failureFunc) IsFailure(err error) bool { return f(err) }

// TripAllFailures returns the default breaker classifier: every non-nil
// error counts toward the failure budget.
func TripAllFailures() FailureClassifier {
	return failureFunc(func(err error) bool { return err != nil })
}

// FailureFunc wraps a predicate function as a FailureClassifier. Use it to
// count only infrastructure failures and ignore application-level errors.
//
// Example:
//
//	resilience.WithFailureClassifier(resilience.FailureFunc(func(err error) bool {
//	    var httpErr resilience.HTTPError
//	    return errors.As(err, &httpErr) && httpErr.StatusCode() >= 500
//	}))
func FailureFunc(f func(err error) bool) FailureClassifier {
	return failureFunc(f)
}

// HTTPStatusClassifier provides HTTP status code-based classification for
// both retry and circuit breaking decisions.
type HTTPStatusClassifier struct {
	// RetryableStatuses lists HTTP status codes that should trigger retries.
	// Defaults to 408, 429, 500, 502, 503, 504 if nil.
	RetryableStatuses []int

	// FailureStatuses lists HTTP status codes that count toward the
	// circuit breaker failure budget.
	// Defaults to 401, 403, 500, 502, 503, 504 if nil.
	FailureStatuses []int
}

// NewHTTPStatusClassifier creates an HTTPStatusClassifier with default
// status code mappings.
// Retryable: 408 (timeout), 429 (rate limit), 500, 502, 503, 504 (server errors)
// Failure: 401, 403 (auth errors), 500, 502, 503, 504 (server errors)
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RetryableStatuses: retryableStatuses,
		FailureStatuses:   []int{401, 403, 500, 502, 503, 504},
	}
}

// IsRetryable implements ErrorClassifier for HTTP status codes.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, jperrors.ErrCircuitOpen) || errors.Is(err, jperrors.ErrCircuitHalfOpen) {
		return false
	}

	if errors.Is(err, jperrors.ErrRateLimited) {
		return true
	}
	if jperrors.IsTimeout(err) {
		return true
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		return true
	}

	return containsStatus(c.getRetryableStatuses(), statusCode)
}

// IsFailure implements FailureClassifier for HTTP status codes.
// Rate limits and timeouts do not count as failures; they are transient
// and should not open the circuit.
func (c *HTTPStatusClassifier) IsFailure(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, jperrors.ErrRateLimited) {
		return false
	}
	if jperrors.IsTimeout(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	statusCode := extractStatusCode(err)
	if statusCode == 0 {
		// Unknown errors count to be safe
		return true
	}

	return containsStatus(c.getFailureStatuses(), statusCode)
}

func (c *HTTPStatusClassifier) getRetryableStatuses() []int {
	if c.RetryableStatuses != nil {
		return c.RetryableStatuses
	}
	return retryableStatuses
}

func (c *HTTPStatusClassifier) getFailureStatuses() []int {
	if c.FailureStatuses != nil {
		return c.FailureStatuses
	}
	return []int{401, 403, 500, 502, 503, 504}
}

// extractStatusCode attempts to extract an HTTP status code from an error.
func extractStatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}

	// jp-go-errors types expose StatusCode without implementing the full
	// HTTPError method set.
	type httpStatusProvider interface {
		StatusCode() int
	}
	var statusProvider httpStatusProvider
	if errors.As(err, &statusProvider) {
		return statusProvider.StatusCode()
	}

	return 0
}

// containsStatus checks if a status code is in the list.
func containsStatus(statuses []int, status int) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// StatusCodeError wraps an error with an HTTP status code.
// Use this when you need to add status code information to an existing error.
type StatusCodeError struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *StatusCodeError) Error() string {
	return e.Err.Error()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *StatusCodeError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code.
// This implements the HTTPError interface.
func (e *StatusCodeError) StatusCode() int {
	return e.Code
}

// NewStatusCodeError creates a new StatusCodeError.
//
// Example:
//
//	err := doRequest()
//	if err != nil {
//	    return resilience.NewStatusCodeError(http.StatusServiceUnavailable, err)
//	}
func NewStatusCodeError(statusCode int, err error) error {
	return &StatusCodeError{
		Code: statusCode,
		Err:  err,
	}
}

// newCircuitOpenError builds the synthetic failure returned while a breaker
// is open. It never originates from the wrapped operation; callers
// distinguish it with errors.Is(err, jperrors.ErrCircuitOpen).
func newCircuitOpenError(counts BreakerCounts) error {
	return jperrors.NewCircuitBreakerError(
		"circuit breaker is open",
		"execute",
		"open",
		jperrors.WithCause(jperrors.ErrCircuitOpen),
		jperrors.WithCounts(jperrors.CircuitCounts{
			Requests:             counts.Requests,
			TotalSuccesses:       counts.TotalSuccesses,
			TotalFailures:        counts.TotalFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
			ConsecutiveFailures:  counts.ConsecutiveFailures,
		}),
	)
}
