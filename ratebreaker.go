package resilience

import (
	"context"
	"errors"
	"log/slog"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// RateBreaker is a windowed failure-ratio circuit breaker backed by
// sony/gobreaker. Unlike CircuitBreaker, which trips on consecutive
// qualifying failures, RateBreaker trips when the failure ratio over a
// rolling interval crosses a threshold, and limits how many calls pass
// through while half-open. Use it when a noisy but mostly-healthy
// operation should not be opened by an occasional failure burst.
type RateBreaker struct {
	cb         *gobreaker.CircuitBreaker[any]
	config     *RateBreakerConfig
	logger     *slog.Logger
	classifier FailureClassifier
}

// NewRateBreaker creates a rate breaker in the closed state.
//
// Example:
//
//	rb := resilience.NewRateBreaker(
//	    resilience.WithMaxRequests(5),
//	    resilience.WithTimeout(60*time.Second),
//	)
//	protected := resilience.ProtectRate(rb, op)
func NewRateBreaker(opts ...RateBreakerOption) *RateBreaker {
	config := DefaultRateBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Classifier == nil {
		config.Classifier = TripAllFailures()
	}
	if config.Name == "" {
		config.Name = "rate-breaker"
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = DefaultRateBreakerConfig().ReadyToTrip
	}

	classifier := config.Classifier

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.ReadyToTrip(BreakerCounts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			})
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())

			if config.OnStateChange != nil {
				config.OnStateChange(name, convertGobreakerState(from), convertGobreakerState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			// Errors outside the failure budget pass through without
			// counting against the breaker.
			return !classifier.IsFailure(err)
		},
	}

	return &RateBreaker{
		cb:         gobreaker.NewCircuitBreaker[any](settings),
		config:     config,
		logger:     config.Logger,
		classifier: classifier,
	}
}

// ProtectRate decorates an operation with the rate breaker. The returned
// operation has the same shape as op.
func ProtectRate[Req, Resp any](rb *RateBreaker, op Operation[Req, Resp]) Operation[Req, Resp] {
	return &rateProtected[Req, Resp]{rb: rb, op: op}
}

type rateProtected[Req, Resp any] struct {
	rb *RateBreaker
	op Operation[Req, Resp]
}

// Execute runs the operation through the rate breaker.
// Rejections are wrapped with jperrors types for consistent handling:
//   - gobreaker.ErrOpenState becomes a circuit breaker error with cause jperrors.ErrCircuitOpen
//   - gobreaker.ErrTooManyRequests becomes one with cause jperrors.ErrCircuitHalfOpen
func (p *rateProtected[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	res, err := p.rb.cb.Execute(func() (any, error) {
		return invoke(ctx, p.op, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			counts := p.rb.Counts()
			p.rb.logger.Warn("circuit breaker is open, call rejected",
				"error", err,
				"name", p.rb.config.Name,
				"counts", counts)
			return zero, jperrors.NewCircuitBreakerError(
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
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			counts := p.rb.Counts()
			p.rb.logger.Debug("circuit breaker half-open, too many calls",
				"error", err)
			return zero, jperrors.NewCircuitBreakerError(
				"too many calls in half-open state",
				"execute",
				"half-open",
				jperrors.WithCause(jperrors.ErrCircuitHalfOpen),
				jperrors.WithCounts(jperrors.CircuitCounts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				}),
			)
		default:
			p.rb.logger.Debug("call failed through circuit breaker",
				"error", err,
				"counts_as_failure", p.rb.classifier.IsFailure(err))
		}
		return zero, err
	}

	resp, _ := res.(Resp)
	return resp, nil
}

// State returns the current state of the rate breaker.
func (rb *RateBreaker) State() State {
	return convertGobreakerState(rb.cb.State())
}

// Counts returns the current counts of the rate breaker.
func (rb *RateBreaker) Counts() BreakerCounts {
	counts := rb.cb.Counts()
	return BreakerCounts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// convertGobreakerState converts gobreaker.State to State.
func convertGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
