package resilience

import (
	"log/slog"
	"time"
)

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// Classifier determines which errors should trigger retries.
	// Default: DefaultRetryClassifier()
	Classifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// InitialBackoff is the delay before the first retry. Subsequent
	// delays grow by BackoffFactor.
	// Default: 1 second
	InitialBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry. Values below
	// 1 are treated as 1 (constant backoff).
	// Default: 2.0
	BackoffFactor float64

	// JitterFraction controls how much each delay is randomized. The
	// actual sleep is backoff + backoff*JitterFraction*u with u drawn
	// uniformly from [-0.5, 0.5], clamped at zero. Values are clamped to
	// [0, 1].
	// Default: 0.1
	JitterFraction float64

	// MaxAttempts is the maximum number of attempts including the initial
	// one. Values below 1 are treated as 1.
	// Default: 3
	MaxAttempts int
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
// The total number of calls will be MaxAttempts (including the initial attempt).
//
// Example:
//
//	resilience.WithMaxAttempts(5) // Try up to 5 times total
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithInitialBackoff sets the delay before the first retry.
//
// Example:
//
//	resilience.WithInitialBackoff(500 * time.Millisecond)
func WithInitialBackoff(backoff time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.InitialBackoff = backoff
	}
}

// WithBackoffFactor sets the growth factor applied after each retry.
//
// Example:
//
//	resilience.WithBackoffFactor(1.5) // 50% growth per retry
//	// With InitialBackoff=1s: ~1s, ~1.5s, ~2.25s, ~3.375s, ...
func WithBackoffFactor(factor float64) RetryOption {
	return func(c *RetryConfig) {
		c.BackoffFactor = factor
	}
}

// WithJitterFraction sets the fraction of the current backoff used for
// randomization. Zero disables jitter entirely, which is mostly useful in
// tests.
//
// Example:
//
//	resilience.WithJitterFraction(0.2)
func WithJitterFraction(fraction float64) RetryOption {
	return func(c *RetryConfig) {
		c.JitterFraction = fraction
	}
}

// WithRetryClassifier sets a custom error classifier for retry decisions.
// It fully replaces the default classification.
//
// Example:
//
//	classifier := &MyCustomClassifier{}
//	resilience.WithRetryClassifier(classifier)
func WithRetryClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.Classifier = classifier
	}
}

// WithRetryLogger sets a custom logger for retry operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	resilience.WithRetryLogger(logger)
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.1,
		Classifier:     DefaultRetryClassifier(),
		Logger:         slog.Default(),
	}
}

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed means the circuit is closed and calls flow normally.
	StateClosed State = iota

	// StateHalfOpen means the circuit is testing if the operation has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and calls are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerCounts holds the internal counts of a circuit breaker.
type BreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// BreakerConfig holds circuit breaker configuration options.
type BreakerConfig struct {
	// Classifier determines which errors count toward the failure budget.
	// Errors not classified as failures are surfaced to the caller but
	// leave the counters untouched.
	// Default: TripAllFailures()
	Classifier FailureClassifier

	// OnStateChange is called whenever the circuit breaker changes state.
	// It is invoked outside the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Name identifies the breaker in logs and state change callbacks.
	// Default: "circuit-breaker"
	Name string

	// ResetTimeout is how long the breaker stays open before the reset
	// timer moves it to half-open.
	// Default: 10 seconds
	ResetTimeout time.Duration

	// FailureThreshold is the number of consecutive qualifying failures
	// that opens the circuit. Values below 1 are treated as 1.
	// Default: 5
	FailureThreshold int

	// HalfOpenCalls is the number of successful half-open calls required
	// to close the circuit again. Values below 1 are treated as 1.
	// Default: 1
	HalfOpenCalls int
}

// BreakerOption is a functional option for configuring circuit breaker behavior.
type BreakerOption func(*BreakerConfig)

// WithName sets the breaker name used in logs and state change callbacks.
//
// Example:
//
//	resilience.WithName("payments-api")
func WithName(name string) BreakerOption {
	return func(c *BreakerConfig) {
		c.Name = name
	}
}

// WithFailureThreshold sets the number of consecutive failures that opens
// the circuit.
//
// Example:
//
//	resilience.WithFailureThreshold(10)
func WithFailureThreshold(threshold int) BreakerOption {
	return func(c *BreakerConfig) {
		c.FailureThreshold = threshold
	}
}

// WithResetTimeout sets how long the breaker stays open before probing.
//
// Example:
//
//	resilience.WithResetTimeout(30 * time.Second)
func WithResetTimeout(timeout time.Duration) BreakerOption {
	return func(c *BreakerConfig) {
		c.ResetTimeout = timeout
	}
}

// WithHalfOpenCalls sets how many successful half-open calls close the
// circuit.
//
// Example:
//
//	resilience.WithHalfOpenCalls(3)
func WithHalfOpenCalls(calls int) BreakerOption {
	return func(c *BreakerConfig) {
		c.HalfOpenCalls = calls
	}
}

// WithFailureClassifier sets a custom classifier for which errors count
// toward the failure budget.
//
// Example:
//
//	resilience.WithFailureClassifier(resilience.NewHTTPStatusClassifier())
func WithFailureClassifier(classifier FailureClassifier) BreakerOption {
	return func(c *BreakerConfig) {
		c.Classifier = classifier
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
//
// Example:
//
//	resilience.WithStateChangeHandler(func(name string, from, to resilience.State) {
//	    log.Printf("Circuit %s changed from %s to %s", name, from, to)
//	})
func WithStateChangeHandler(fn func(name string, from, to State)) BreakerOption {
	return func(c *BreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithBreakerLogger sets a custom logger for circuit breaker operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	resilience.WithBreakerLogger(logger)
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(c *BreakerConfig) {
		c.Logger = logger
	}
}

// DefaultBreakerConfig returns circuit breaker configuration with sensible defaults.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Name:             "circuit-breaker",
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		HalfOpenCalls:    1,
		Classifier:       TripAllFailures(),
		Logger:           slog.Default(),
	}
}

// RateBreakerConfig holds configuration for the windowed failure-ratio
// breaker backed by gobreaker.
type RateBreakerConfig struct {
	// ReadyToTrip is called with a copy of counts whenever a call fails in
	// the closed state. If it returns true, the breaker opens.
	// Default: trips after 3 requests with 60% failure rate
	ReadyToTrip func(counts BreakerCounts) bool

	// Classifier determines which errors count toward the failure budget.
	// Default: TripAllFailures()
	Classifier FailureClassifier

	// OnStateChange is called whenever the breaker changes state.
	OnStateChange func(name string, from, to State)

	// Logger for breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Name identifies the breaker in logs and state change callbacks.
	// Default: "rate-breaker"
	Name string

	// Interval is the cyclic period of the closed state over which counts
	// are accumulated. If 0, counts never clear.
	// Default: 10 seconds
	Interval time.Duration

	// Timeout is the period of the open state, after which the breaker
	// becomes half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRequests is the maximum number of calls allowed through while the
	// breaker is half-open.
	// Default: 3
	MaxRequests uint32
}

// RateBreakerOption is a functional option for configuring a RateBreaker.
type RateBreakerOption func(*RateBreakerConfig)

// WithMaxRequests sets the maximum number of half-open calls.
//
// Example:
//
//	resilience.WithMaxRequests(5)
func WithMaxRequests(maxRequests uint32) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.MaxRequests = maxRequests
	}
}

// WithInterval sets the interval for clearing counts in the closed state.
//
// Example:
//
//	resilience.WithInterval(10 * time.Second)
func WithInterval(interval time.Duration) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.Interval = interval
	}
}

// WithTimeout sets the timeout for staying in the open state.
//
// Example:
//
//	resilience.WithTimeout(60 * time.Second)
func WithTimeout(timeout time.Duration) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithReadyToTrip sets a custom function to determine when to trip.
//
// Example:
//
//	resilience.WithReadyToTrip(func(counts resilience.BreakerCounts) bool {
//	    failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
//	    return counts.Requests >= 5 && failureRatio >= 0.5
//	})
func WithReadyToTrip(fn func(counts BreakerCounts) bool) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.ReadyToTrip = fn
	}
}

// WithRateFailureClassifier sets a custom classifier for which errors count
// toward the failure budget.
func WithRateFailureClassifier(classifier FailureClassifier) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.Classifier = classifier
	}
}

// WithRateStateChangeHandler sets a callback for breaker state changes.
func WithRateStateChangeHandler(fn func(name string, from, to State)) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithRateBreakerLogger sets a custom logger for breaker operations.
func WithRateBreakerLogger(logger *slog.Logger) RateBreakerOption {
	return func(c *RateBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultRateBreakerConfig returns rate breaker configuration with sensible defaults.
func DefaultRateBreakerConfig() *RateBreakerConfig {
	return &RateBreakerConfig{
		Name:        "rate-breaker",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts BreakerCounts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		Classifier: TripAllFailures(),
		Logger:     slog.Default(),
	}
}
