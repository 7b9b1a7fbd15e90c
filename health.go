package resilience

// HealthStatus represents the health status of a circuit breaker.
// It provides a strongly-typed alternative to map[string]interface{} for health checks.
type HealthStatus struct {
	// Healthy indicates whether the circuit breaker is in a healthy state.
	// True for closed and half-open states, false for open state.
	Healthy bool `json:"healthy"`

	// Status is a short string description of the state ("closed", "half-open", "open", "unknown").
	Status string `json:"status"`

	// State is the full string representation of the circuit breaker state.
	State string `json:"state"`

	// Requests is the total number of requests recorded.
	Requests uint32 `json:"requests"`

	// TotalSuccesses is the total number of successful requests.
	TotalSuccesses uint32 `json:"total_successes"`

	// TotalFailures is the total number of failed requests.
	TotalFailures uint32 `json:"total_failures"`

	// ConsecutiveFailures is the number of consecutive failures.
	ConsecutiveFailures uint32 `json:"consecutive_failures"`

	// ConsecutiveSuccesses is the number of consecutive successes.
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// healthFromState derives a HealthStatus snapshot from a breaker's state
// and counters.
func healthFromState(state State, counts BreakerCounts) HealthStatus {
	var healthy bool
	var status string

	switch state {
	case StateClosed:
		healthy = true
		status = "closed"
	case StateHalfOpen:
		healthy = true // Degraded but operational
		status = "half-open"
	case StateOpen:
		healthy = false
		status = "open"
	default:
		status = "unknown"
	}

	return HealthStatus{
		Healthy:              healthy,
		Status:               status,
		State:                state.String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

// GetHealth returns the health status of the circuit breaker.
func (cb *CircuitBreaker) GetHealth() HealthStatus {
	cb.mu.Lock()
	state := cb.state
	counts := cb.counts
	cb.mu.Unlock()

	return healthFromState(state, counts)
}

// GetHealth returns the health status of the rate breaker.
func (rb *RateBreaker) GetHealth() HealthStatus {
	return healthFromState(rb.State(), rb.Counts())
}
