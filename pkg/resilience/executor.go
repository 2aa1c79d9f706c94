package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Executor composes the resilience layers around one fallible call, in a
// fixed order: bulkhead admission, circuit breaker gate, retry loop, per
// attempt timeout. Every layer is optional.
//
// The circuit breaker is consulted once up front and recorded exactly once
// with the terminal outcome of the whole retry loop. Recording per attempt
// would let the retry loop and the breaker destabilize each other: a burst of
// retries against a flapping dependency would trip the breaker that the retry
// policy was meant to ride out.
type Executor struct {
	bulkhead *Bulkhead
	breaker  *CircuitBreaker
	retry    *RetryPolicy
	timeout  *TimeoutPolicy
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor from the given layers.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// WithBulkhead bounds concurrent logical calls.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithCircuitBreaker guards the call with a shared breaker.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.breaker = cb }
}

// WithRetryPolicy retries failed attempts per the policy.
func WithRetryPolicy(r *RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithTimeoutPolicy bounds each individual attempt.
func WithTimeoutPolicy(t *TimeoutPolicy) ExecutorOption {
	return func(e *Executor) { e.timeout = t }
}

// WithTimeout bounds each individual attempt with an unnamed deadline.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = NewTimeoutPolicy("", timeout) }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// Execute runs op as one logical call:
//
//  1. acquire a bulkhead permit or fail fast with ErrBulkheadFull;
//  2. pass the circuit breaker gate or fail fast with ErrCircuitOpen;
//  3. run up to MaxRetries+1 attempts, each under the timeout policy; an
//     admission rejection surfacing from op aborts the loop without
//     consuming further retries;
//  4. on exhaustion, return RetriesExhaustedError wrapping the last error.
//
// Context cancellation aborts the call and is returned as-is, without being
// recorded against the breaker: the protected resource did not fail. Every
// admitted call balances its probe slot exactly once, with RecordSuccess or
// RecordFailure for a real outcome and Discard for cancellation and admission
// rejections, so a half-open breaker can never be wedged by an aborted call.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	if e.bulkhead != nil {
		permit, err := e.bulkhead.Acquire(ctx)
		if err != nil {
			return err
		}
		defer permit.Release()
	}

	admitted := false

	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return err
		}

		admitted = true
	}

	var lastErr error

	for attempt := 1; ; attempt++ {
		err := e.attempt(ctx, op)
		if err == nil {
			if admitted {
				e.breaker.RecordSuccess()
			}

			return nil
		}

		lastErr = err

		if IsAdmissionError(err) {
			// A shared gate deeper in the stack rejected the call. Not an
			// outcome of the protected resource, so the probe slot is
			// released without counting and the loop stops immediately.
			if admitted {
				e.breaker.Discard()
			}

			return err
		}

		if errors.Is(err, context.Canceled) {
			// The caller walked away mid-attempt. Nothing to record.
			if admitted {
				e.breaker.Discard()
			}

			return err
		}

		if e.retry == nil || !e.retry.ShouldRetry(attempt) || !e.retry.ShouldRetryError(err) {
			break
		}

		delay := e.retry.DelayForAttempt(attempt)

		if cb := e.retry.Config().OnRetry; cb != nil {
			cb(attempt, err, delay)
		}

		e.logger.Debug("retrying after failed attempt",
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			if admitted {
				e.breaker.Discard()
			}

			return ctx.Err()
		case <-time.After(delay):
		}

		if err := e.recheckAdmission(); err != nil {
			// The breaker opened while this call slept between attempts.
			// Abort without consuming more retries.
			if admitted {
				e.breaker.Discard()
			}

			return err
		}
	}

	if admitted {
		e.breaker.RecordFailure()
	}

	if e.retry != nil {
		return &RetriesExhaustedError{Attempts: e.retry.Config().MaxRetries + 1, Err: lastErr}
	}

	return lastErr
}

func (e *Executor) attempt(ctx context.Context, op func(context.Context) error) error {
	if e.timeout != nil {
		return e.timeout.Execute(ctx, op)
	}

	return op(ctx)
}

// recheckAdmission peeks at the breaker state between attempts without
// reserving another slot; the logical call already holds its admission.
func (e *Executor) recheckAdmission() error {
	if e.breaker != nil && e.breaker.State() == StateOpen {
		return ErrCircuitOpen
	}

	return nil
}
