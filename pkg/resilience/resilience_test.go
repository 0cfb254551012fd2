package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Ingestion-Pipeline/pkg/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialDelay:   time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		JitterFraction: -1,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "flaky", fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	cause := errors.New("down")
	calls := 0
	err := Retry(context.Background(), "down", fastRetry(3), func() error {
		calls++
		return cause
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastRetry(3)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, apperrors.ErrValidation) }
	calls := 0
	err := Retry(context.Background(), "bad input", cfg, func() error {
		calls++
		return apperrors.Validation("nope")
	})
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 1, calls)
}

func TestComputeDelayCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 4 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, JitterFraction: -1}
	assert.Equal(t, 4*time.Second, computeDelay(1, cfg))
	assert.Equal(t, 8*time.Second, computeDelay(2, cfg))
	assert.Equal(t, 10*time.Second, computeDelay(3, cfg))
}

func TestComputeDelayJitterStaysWithinBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 4 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, JitterFraction: 0.1}
	for i := 0; i < 200; i++ {
		first := computeDelay(1, cfg)
		assert.GreaterOrEqual(t, first, 4*time.Second)
		assert.LessOrEqual(t, first, 4400*time.Millisecond)
		assert.LessOrEqual(t, computeDelay(3, cfg), 10*time.Second)
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	var changes []State
	cb := NewCircuitBreaker("nomic", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange:    func(_ string, _, to State) { changes = append(changes, to) },
	})
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, changes)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return nil })
	assert.NoError(t, err)
}
