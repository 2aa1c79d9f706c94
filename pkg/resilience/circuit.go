package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failures that open the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the consecutive half-open successes that close it.
	// Default: 1
	SuccessThreshold int

	// Timeout is how long an open circuit waits before admitting a probe.
	// Default: 30s
	Timeout time.Duration

	// HalfOpenMaxRequests caps concurrent half-open probes.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called on every transition.
	OnStateChange func(from, to State)
}

// CircuitBreaker is a shared, internally synchronized 3-state machine guarding
// a protected resource. Callers interact only through the admission gate
// (Allow) and the outcome recorders; raw state is never exposed for mutation.
// It cycles for the life of the resource; there is no terminal state.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	halfOpen    int // probes currently admitted in half-open
}

// Counts is a point-in-time snapshot of the breaker's internal counters.
type Counts struct {
	State            State
	Failures         int
	Successes        int
	LastFailureTime  time.Time
	HalfOpenRequests int
}

// NewCircuitBreaker creates a breaker in the closed state, applying defaults
// to zero config fields.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}

	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}

	return &CircuitBreaker{config: config, state: StateClosed}
}

// Allow is the admission gate for one logical call. It returns ErrCircuitOpen
// when the circuit rejects the call. In half-open it reserves one probe slot;
// the caller must balance an admitted call with exactly one RecordSuccess or
// RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpen >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}

		cb.halfOpen++
	}

	return nil
}

// Discard releases an admitted call's half-open probe slot without recording
// an outcome. For calls that ended before the resource answered: the caller
// walked away, or a deeper admission gate rejected the call. Counts toward
// neither threshold.
func (cb *CircuitBreaker) Discard() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpen > 0 {
		cb.halfOpen--
	}
}

// RecordSuccess records the successful terminal outcome of one admitted call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.halfOpen > 0 {
			cb.halfOpen--
		}

		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure records the failed terminal outcome of one admitted call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens the circuit and restarts its timeout.
		cb.lastFailure = time.Now()
		cb.transitionLocked(StateOpen)
	}
}

// Call runs op through the breaker as one logical call, recording its outcome.
// Used for standalone protection; the resilience Executor drives the gate and
// recorders itself so the whole retry loop counts once.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}

	return err
}

// State returns the current state, applying the lazy open -> half-open
// transition when the reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.currentStateLocked()
}

// Counts returns a snapshot of the internal counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Counts{
		State:            cb.currentStateLocked(),
		Failures:         cb.failures,
		Successes:        cb.successes,
		LastFailureTime:  cb.lastFailure,
		HalfOpenRequests: cb.halfOpen,
	}
}

// Reset forces the breaker back to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.halfOpen = 0

	if cb.state != StateClosed {
		cb.transitionLocked(StateClosed)
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.Timeout {
		cb.transitionLocked(StateHalfOpen)
	}

	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(next State) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next

	switch next {
	case StateHalfOpen:
		cb.halfOpen = 0
		cb.successes = 0
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.halfOpen = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(prev, next)
	}
}
