package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CircuitBreaker is a three-state (closed/open/half-open) guard for
// operations. It opens after a configurable number of consecutive
// qualifying failures, rejects calls while open, and probes the operation
// again once the reset timer moves it to half-open. One breaker instance
// owns one state; use Protect to decorate any number of operations with it.
type CircuitBreaker struct {
	config     *BreakerConfig
	logger     *slog.Logger
	classifier FailureClassifier

	mu                sync.Mutex
	state             State
	counts            BreakerCounts
	halfOpenSuccesses int
	lastOpenedAt      time.Time

	// trigger carries one pending reset-timer wake at most. Entering the
	// open state does a non-blocking send, so triggers arriving while a
	// wait is already pending coalesce instead of stacking timers.
	trigger  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewCircuitBreaker creates a circuit breaker in the closed state and
// starts its background reset timer.
//
// Example:
//
//	cb := resilience.NewCircuitBreaker(
//	    resilience.WithFailureThreshold(5),
//	    resilience.WithResetTimeout(10*time.Second),
//	)
//	protected := resilience.Protect(cb, op)
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	config := DefaultBreakerConfig()
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
		config.Name = "circuit-breaker"
	}
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.HalfOpenCalls < 1 {
		config.HalfOpenCalls = 1
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 10 * time.Second
	}

	cb := &CircuitBreaker{
		config:     config,
		logger:     config.Logger,
		classifier: config.Classifier,
		state:      StateClosed,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	go cb.resetLoop()

	return cb
}

// Protect decorates an operation with the breaker. The returned operation
// has the same shape as op; while the breaker is open it returns a
// circuit-open error without invoking op.
func Protect[Req, Resp any](cb *CircuitBreaker, op Operation[Req, Resp]) Operation[Req, Resp] {
	return &protected[Req, Resp]{cb: cb, op: op}
}

type protected[Req, Resp any] struct {
	cb *CircuitBreaker
	op Operation[Req, Resp]
}

// Execute runs the operation through the circuit breaker.
// If the circuit is open, the call is rejected immediately without invoking
// the underlying operation; callers recognize the rejection with
// errors.Is(err, jperrors.ErrCircuitOpen).
func (p *protected[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	ok, counts := p.cb.allow()
	if !ok {
		return zero, newCircuitOpenError(counts)
	}

	resp, err := invoke(ctx, p.op, req)
	p.cb.record(err)
	return resp, err
}

// allow reports whether a call may proceed, with a counts snapshot for the
// rejection error when it may not.
func (cb *CircuitBreaker) allow() (bool, BreakerCounts) {
	cb.mu.Lock()
	state := cb.state
	counts := cb.counts
	cb.mu.Unlock()

	if state == StateOpen {
		cb.logger.Warn("circuit breaker is open, call rejected",
			"name", cb.config.Name,
			"counts", counts)
		return false, counts
	}

	return true, counts
}

// record classifies a completed call against the current state and applies
// the transition rules. Status and counters always move as one atomic unit
// under the breaker's lock; the state change callback runs outside it.
func (cb *CircuitBreaker) record(err error) {
	success := err == nil
	qualifies := !success && cb.classifier.IsFailure(err)

	var from, to State
	changed := false

	cb.mu.Lock()
	cb.counts.Requests++
	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
	} else {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveSuccesses = 0
	}

	switch cb.state {
	case StateClosed:
		if success {
			cb.counts.ConsecutiveFailures = 0
		} else if qualifies {
			cb.counts.ConsecutiveFailures++
			if int(cb.counts.ConsecutiveFailures) >= cb.config.FailureThreshold {
				from, to, changed = cb.openLocked()
			}
		}
	case StateHalfOpen:
		if success {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.config.HalfOpenCalls {
				from, to, changed = cb.closeLocked()
			}
		} else if qualifies {
			cb.counts.ConsecutiveFailures++
			from, to, changed = cb.openLocked()
		}
	case StateOpen:
		// A call that was already in flight when the breaker opened;
		// its outcome no longer moves the state.
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
}

// openLocked transitions to open, records the opening time, and triggers
// the reset timer. Must be called with cb.mu held.
func (cb *CircuitBreaker) openLocked() (from, to State, changed bool) {
	from = cb.state
	cb.state = StateOpen
	cb.lastOpenedAt = time.Now()

	select {
	case cb.trigger <- struct{}{}:
	default:
		// A wake is already pending; redundant triggers coalesce.
	}

	return from, StateOpen, true
}

// closeLocked transitions to closed and resets the counters.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) closeLocked() (from, to State, changed bool) {
	from = cb.state
	cb.state = StateClosed
	cb.counts.ConsecutiveFailures = 0
	cb.halfOpenSuccesses = 0
	return from, StateClosed, true
}

// resetLoop is the single background owner of the open-to-half-open
// transition. It parks on the trigger channel, waits ResetTimeout per
// trigger, and moves the breaker to half-open only if it is still open by
// then. Triggers are processed strictly one at a time, so waits never
// overlap; a stale wake is a no-op.
func (cb *CircuitBreaker) resetLoop() {
	for {
		select {
		case <-cb.done:
			return
		case <-cb.trigger:
		}

		timer := time.NewTimer(cb.config.ResetTimeout)
		select {
		case <-cb.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		var from, to State
		changed := false

		cb.mu.Lock()
		if cb.state == StateOpen {
			from = cb.state
			cb.state = StateHalfOpen
			cb.halfOpenSuccesses = 0
			to = StateHalfOpen
			changed = true
		}
		cb.mu.Unlock()

		if changed {
			cb.notify(from, to)
		}
	}
}

// notify logs a state change and invokes the configured callback.
func (cb *CircuitBreaker) notify(from, to State) {
	cb.logger.Warn("circuit breaker state changed",
		"name", cb.config.Name,
		"from", from.String(),
		"to", to.String())

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Counts() BreakerCounts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// LastOpenedAt returns when the breaker last entered the open state, or
// the zero time if it never opened.
func (cb *CircuitBreaker) LastOpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastOpenedAt
}

// Stop terminates the background reset timer. The breaker keeps serving
// calls in whatever state it is in, but an open circuit will no longer
// move to half-open on its own. Stop is optional and only needed when the
// breaker itself is being discarded.
func (cb *CircuitBreaker) Stop() {
	cb.stopOnce.Do(func() {
		close(cb.done)
	})
}
