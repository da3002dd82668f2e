package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithBackoffStopsOnSuccess(t *testing.T) {
	calls := 0
	result := WithBackoff(context.Background(), FixedDelayConfig(6, time.Millisecond), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.LastError)
}

func TestWithBackoffExhaustsAttempts(t *testing.T) {
	notFound := errors.New("not found")
	result := WithBackoff(context.Background(), FixedDelayConfig(4, time.Millisecond), func(ctx context.Context, attempt int) error {
		return notFound
	})

	assert.False(t, result.Success)
	assert.Equal(t, 4, result.Attempts)
	assert.ErrorIs(t, result.LastError, notFound)
}

func TestWithBackoffPermanent(t *testing.T) {
	bad := errors.New("bad input")
	result := WithBackoff(context.Background(), FixedDelayConfig(6, time.Millisecond), func(ctx context.Context, attempt int) error {
		return Permanent(bad)
	})

	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, bad, result.LastError)
}

func TestWithBackoffContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := WithBackoff(ctx, FixedDelayConfig(3, time.Hour), func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 4*time.Second, calculateDelay(cfg, 3))
	assert.Equal(t, 30*time.Second, calculateDelay(cfg, 10))

	fixed := FixedDelayConfig(6, 1200*time.Millisecond)
	assert.Equal(t, 1200*time.Millisecond, calculateDelay(fixed, 5))
}
