package resilience

import "log/slog"

// Combine decorates an operation with both a circuit breaker and retry
// logic. The breaker is applied first (inner layer) so every attempt,
// including retries, is accounted against the breaker's state; retry is
// applied outside to handle transient failures. The breaker is returned
// alongside the decorated operation so callers can inspect its state and
// release it with Stop. The decorators are independent, so callers who
// want the opposite layering can compose NewRetry and Protect by hand.
func Combine[Req, Resp any](
	op Operation[Req, Resp],
	retryOpts []RetryOption,
	breakerOpts []BreakerOption,
	logger *slog.Logger,
) (Operation[Req, Resp], *CircuitBreaker) {
	if logger != nil {
		retryOpts = append(retryOpts, WithRetryLogger(logger))
		breakerOpts = append(breakerOpts, WithBreakerLogger(logger))
	}

	cb := NewCircuitBreaker(breakerOpts...)
	withBreaker := Protect(cb, op)

	return NewRetry(withBreaker, retryOpts...), cb
}
