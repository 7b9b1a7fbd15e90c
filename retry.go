package resilience

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry wraps an Operation with configurable retry logic. Qualifying
// failures are re-attempted with exponentially growing, jittered backoff
// up to a bounded attempt count. The request is forwarded unchanged on
// every attempt, and the backoff sleep suspends only the calling
// goroutine.
type Retry[Req, Resp any] struct {
	op         Operation[Req, Resp]
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetry creates a retry decorator around an Operation.
// It applies the provided options to configure retry behavior.
//
// Example:
//
//	wrapped := resilience.NewRetry[string, string](
//	    op,
//	    resilience.WithMaxAttempts(5),
//	    resilience.WithInitialBackoff(time.Second),
//	)
func NewRetry[Req, Resp any](
	op Operation[Req, Resp],
	opts ...RetryOption,
) *Retry[Req, Resp] {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Classifier == nil {
		config.Classifier = DefaultRetryClassifier()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.InitialBackoff < 0 {
		config.InitialBackoff = 0
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	if config.JitterFraction < 0 {
		config.JitterFraction = 0
	}
	if config.JitterFraction > 1 {
		config.JitterFraction = 1
	}

	return &Retry[Req, Resp]{
		op:         op,
		config:     config,
		logger:     config.Logger,
		classifier: config.Classifier,
		stats:      &retryStats{},
	}
}

// Execute performs the operation with retry logic. It retries qualifying
// errors up to MaxAttempts times and returns the final outcome unchanged:
// the first success, the first non-retryable failure, or the last failure
// once the attempt budget is exhausted.
func (r *Retry[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	// Check if the parent context is already done before attempting anything.
	select {
	case <-ctx.Done():
		r.logger.Warn("context already done before request (expected condition)",
			"error", ctx.Err())
		return zero, ctx.Err()
	default:
	}

	var response Resp
	var attempts int

	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempts++

		r.stats.mu.Lock()
		r.stats.totalAttempts++
		if attempts > 1 {
			r.stats.totalRetries++
		}
		r.stats.lastAttemptTime = time.Now()
		r.stats.mu.Unlock()

		resp, err := invoke(ctx, r.op, req)
		if err == nil {
			if attempts > 1 {
				r.logger.Info("operation succeeded after retry",
					"attempts", attempts)
			}
			response = resp
			return nil
		}

		if !r.classifier.IsRetryable(err) {
			r.logger.Debug("non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		r.logger.Debug("retrying operation after backoff",
			"attempt", attempts,
			"error", err)

		return retry.RetryableError(err)
	})
	if err != nil {
		r.logger.Warn("operation failed after retries",
			"attempts", attempts,
			"error", err)
		r.stats.mu.Lock()
		r.stats.totalFailures++
		r.stats.lastError = err
		r.stats.mu.Unlock()
		return zero, err
	}

	r.stats.mu.Lock()
	r.stats.totalSuccesses++
	r.stats.mu.Unlock()

	return response, nil
}

// backoff builds the backoff schedule for one Execute call: a geometric
// sequence starting at InitialBackoff, multiplied by BackoffFactor after
// each sleep, with each delay jittered by JitterFraction of itself.
// Note: retry.Do counts the initial attempt, so MaxAttempts-1 is passed
// to WithMaxRetries; with MaxAttempts=1 the loop stops before any sleep.
func (r *Retry[Req, Resp]) backoff() retry.Backoff {
	current := float64(r.config.InitialBackoff)
	factor := r.config.BackoffFactor
	fraction := r.config.JitterFraction

	return retry.WithMaxRetries(
		uint64(r.config.MaxAttempts-1), // #nosec G115 - clamped to >= 1 in NewRetry
		retry.BackoffFunc(func() (time.Duration, bool) {
			delay := current + jitter(current, fraction)
			if delay < 0 {
				delay = 0
			}
			current *= factor
			return time.Duration(delay), false
		}),
	)
}

// jitter returns backoff * fraction * u with u uniform in [-0.5, 0.5],
// using crypto/rand so concurrent callers never synchronize their retry
// storms. Falls back to no jitter if the random source fails.
func jitter(backoff, fraction float64) float64 {
	if backoff <= 0 || fraction <= 0 {
		return 0
	}

	const scale = 1 << 20
	n, err := rand.Int(rand.Reader, big.NewInt(scale))
	if err != nil {
		return 0
	}
	u := float64(n.Int64())/scale - 0.5
	return backoff * fraction * u
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64

	// TotalFailures is the number of failed operations (after all retries exhausted)
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error encountered (if any)
	LastError error
}

// Stats returns a snapshot of retry statistics. Exhaustion is not a
// distinct error kind, so counting attempts here is the way to observe it.
// This method is safe for concurrent use.
func (r *Retry[Req, Resp]) Stats() RetryStats {
	r.stats.mu.RLock()
	defer r.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   r.stats.totalAttempts,
		TotalRetries:    r.stats.totalRetries,
		TotalSuccesses:  r.stats.totalSuccesses,
		TotalFailures:   r.stats.totalFailures,
		LastAttemptTime: r.stats.lastAttemptTime,
		LastError:       r.stats.lastError,
	}
}
