package resilience

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures transient-fault retry with capped exponential
// backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// 0 disables retry, for non-idempotent operations.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff base.
	// Default: 2.0
	Multiplier float64

	// Jitter randomizes each delay by ±uniform(0, delay*JitterFactor).
	Jitter bool

	// JitterFactor is the jitter amplitude relative to the delay.
	// Default: 0.25 when Jitter is enabled.
	JitterFactor float64

	// RetryOnTimeout controls whether ErrTimeout failures are retried.
	RetryOnTimeout bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryPolicy computes per-attempt delays and decides retry exhaustion. It is
// a pure decision component; the Executor owns the loop and the sleeping.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, applying defaults to zero fields.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}

	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}

	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	if config.Jitter && config.JitterFactor <= 0 {
		config.JitterFactor = 0.25
	}

	return &RetryPolicy{config: config}
}

// Config returns the effective configuration.
func (r *RetryPolicy) Config() RetryConfig {
	return r.config
}

// ShouldRetry reports whether another retry is allowed after the given
// attempt number (1-based).
func (r *RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt <= r.config.MaxRetries
}

// ShouldRetryError reports whether the error class is retryable at all.
// Admission rejections never are; timeouts only when RetryOnTimeout is set.
func (r *RetryPolicy) ShouldRetryError(err error) bool {
	if err == nil || IsAdmissionError(err) {
		return false
	}

	if errors.Is(err, ErrTimeout) {
		return r.config.RetryOnTimeout
	}

	return true
}

// DelayForAttempt returns the backoff delay preceding the given retry
// (1-based): min(MaxDelay, InitialDelay*Multiplier^(attempt-1)), optionally
// jittered.
func (r *RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	delay := time.Duration(backoff)
	if backoff > float64(r.config.MaxDelay) || delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		offset := (rand.Float64()*2 - 1) * float64(delay) * r.config.JitterFactor

		delay += time.Duration(offset)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
