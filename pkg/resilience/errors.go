// Package resilience provides the fault-tolerance primitives protecting step
// invocations: hard deadlines, capped exponential retry, circuit breaking and
// bounded-concurrency bulkheads, plus an Executor composing them around one
// fallible call.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Admission rejections (ErrCircuitOpen, ErrBulkheadFull) are
// fail-fast and never retried; ErrTimeout is retried only when the retry
// policy opts in.
var (
	ErrCircuitOpen      = errors.New("resilience: circuit breaker is open")
	ErrBulkheadFull     = errors.New("resilience: bulkhead at capacity")
	ErrTimeout          = errors.New("resilience: operation timed out")
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
)

// TimeoutError reports which deadline expired. It matches ErrTimeout.
type TimeoutError struct {
	Name  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("resilience: operation timed out after %s", e.After)
	}

	return fmt.Sprintf("resilience: %s timed out after %s", e.Name, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RetriesExhaustedError is the terminal error of a logical call whose retry
// budget ran out. It matches ErrRetriesExhausted and unwraps to the last
// attempt's error.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("resilience: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// IsAdmissionError reports whether err is a fail-fast rejection from a shared
// admission gate rather than an operation failure.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBulkheadFull)
}
