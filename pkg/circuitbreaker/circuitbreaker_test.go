package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterThresholdAndRecovers(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}).
		WithClock(func() time.Time { return now })

	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}).
		WithClock(func() time.Time { return now })

	_ = cb.Execute(func() error { return errBoom })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	t.Parallel()
	ignored := errors.New("client error")
	cb := NewCircuitBreaker(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, ignored) },
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return ignored })
	}
	assert.Equal(t, StateClosed, cb.State())
}
