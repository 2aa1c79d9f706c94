package resilience

import (
	"context"
	"time"
)

const defaultTimeout = 30 * time.Second

// TimeoutPolicy races an operation against a hard deadline. An expired
// operation is abandoned, not killed: it keeps running until it observes its
// context, so its side effects afterwards are unknown, not guaranteed absent.
type TimeoutPolicy struct {
	name    string
	timeout time.Duration
}

// NewTimeoutPolicy creates a timeout policy. The name identifies the guarded
// operation in error messages. A non-positive timeout falls back to 30s.
func NewTimeoutPolicy(name string, timeout time.Duration) *TimeoutPolicy {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &TimeoutPolicy{name: name, timeout: timeout}
}

// Timeout returns the configured deadline.
func (t *TimeoutPolicy) Timeout() time.Duration {
	return t.timeout
}

// Execute runs op under the deadline. On expiry it returns a *TimeoutError
// (matching ErrTimeout); op receives a context cancelled at the deadline so
// cancellation-aware operations can stop early.
func (t *TimeoutPolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return &TimeoutError{Name: t.name, After: t.timeout}
		}

		return ctx.Err()
	}
}

// ExecuteWithTimeout runs op under a one-off deadline.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewTimeoutPolicy("", timeout).Execute(ctx, op)
}
