package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for range 2 {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}

	assert.Equal(t, StateClosed, cb.State())

	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	// Failures must be consecutive to open the circuit.
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
	})

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenCapsProbes(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    1,
		Timeout:             10 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow())
	cb.RecordSuccess()

	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_SuccessThresholdRequiresConsecutiveProbes(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    1,
		SuccessThreshold:    2,
		Timeout:             10 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_DiscardFreesProbeSlot(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    1,
		Timeout:             10 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	cb.Discard()

	// The slot is free again and discarding counted toward no threshold.
	counts := cb.Counts()
	assert.Equal(t, StateHalfOpen, counts.State)
	assert.Zero(t, counts.HalfOpenRequests)
	assert.Zero(t, counts.Successes)

	require.NoError(t, cb.Allow())
}

func TestCircuitBreaker_DiscardIsNoOpWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	cb.RecordFailure()
	cb.Discard()

	counts := cb.Counts()
	assert.Equal(t, StateClosed, counts.State)
	assert.Equal(t, 1, counts.Failures)
	assert.Zero(t, counts.HalfOpenRequests)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	boom := errors.New("boom")

	err := cb.Call(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = cb.Call(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = cb.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	counts := cb.Counts()
	assert.Equal(t, StateClosed, counts.State)
	assert.Zero(t, counts.Failures)
	assert.Zero(t, counts.HalfOpenRequests)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
