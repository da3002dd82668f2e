package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	cb := NewCircuitBreaker(&Config{Name: "prices", MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	cb.now = func() time.Time { return clock }

	boom := errors.New("upstream 503")
	fail := func() error { return boom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock = clock.Add(2 * time.Minute)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	cb := NewCircuitBreaker(&Config{Name: "dex", MaxFailures: 1, Timeout: time.Second})
	cb.now = func() time.Time { return clock }

	boom := errors.New("timeout")
	_ = cb.Execute(ctx, func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	clock = clock.Add(2 * time.Second)
	_ = cb.Execute(ctx, func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrCircuitOpen)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}
