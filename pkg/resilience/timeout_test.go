package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutPolicy_CompletesWithinDeadline(t *testing.T) {
	p := NewTimeoutPolicy("fast", time.Second)

	err := p.Execute(context.Background(), func(context.Context) error {
		return nil
	})

	assert.NoError(t, err)
}

func TestTimeoutPolicy_Expires(t *testing.T) {
	p := NewTimeoutPolicy("slow", 20*time.Millisecond)

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	require.ErrorIs(t, err, ErrTimeout)

	var timeoutErr *TimeoutError

	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow", timeoutErr.Name)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.After)
	assert.Contains(t, err.Error(), "slow timed out")
}

func TestTimeoutPolicy_PropagatesOperationError(t *testing.T) {
	p := NewTimeoutPolicy("op", time.Second)

	err := p.Execute(context.Background(), func(context.Context) error {
		return assert.AnError
	})

	assert.ErrorIs(t, err, assert.AnError)
}

func TestTimeoutPolicy_OuterCancellationWins(t *testing.T) {
	p := NewTimeoutPolicy("op", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})

	// Caller cancellation is not a deadline expiry.
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeoutPolicy_DefaultTimeout(t *testing.T) {
	p := NewTimeoutPolicy("", 0)

	assert.Equal(t, 30*time.Second, p.Timeout())
}

func TestExecuteWithTimeout(t *testing.T) {
	err := ExecuteWithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrTimeout)
}
