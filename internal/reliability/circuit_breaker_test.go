package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	failing := func() error { return errors.New("redis: connection refused") }

	t.Run("starts in closed state", func(t *testing.T) {
		cb := NewCircuitBreaker()
		assert.Equal(t, StateClosed, cb.GetState())
		assert.Equal(t, "default", cb.Name())
	})

	t.Run("executes function in closed state", func(t *testing.T) {
		cb := NewCircuitBreaker()
		executed := false

		err := cb.Execute(context.Background(), func() error {
			executed = true
			return nil
		})

		assert.NoError(t, err)
		assert.True(t, executed)
	})

	t.Run("opens after failure threshold", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(3), WithName("cache"))

		for i := 0; i < 3; i++ {
			assert.Error(t, cb.Execute(context.Background(), failing))
		}
		assert.Equal(t, StateOpen, cb.GetState())

		executed := false
		err := cb.Execute(context.Background(), func() error {
			executed = true
			return nil
		})
		assert.False(t, executed)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, "cache", cbErr.Name)
		assert.Equal(t, 3, cbErr.Failures)
		assert.False(t, isRetryableError(err))
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		assert.Error(t, cb.Execute(context.Background(), failing))
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Error(t, cb.Execute(context.Background(), failing))

		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("trial call after timeout closes the circuit", func(t *testing.T) {
		now := time.Now()
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithOpenTimeout(time.Minute))
		cb.now = func() time.Time { return now }

		assert.Error(t, cb.Execute(context.Background(), failing))
		assert.Equal(t, StateOpen, cb.GetState())

		now = now.Add(2 * time.Minute)
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("failed trial reopens the circuit", func(t *testing.T) {
		now := time.Now()
		cb := NewCircuitBreaker(WithFailureThreshold(1), WithOpenTimeout(time.Minute))
		cb.now = func() time.Time { return now }

		assert.Error(t, cb.Execute(context.Background(), failing))
		now = now.Add(2 * time.Minute)
		assert.Error(t, cb.Execute(context.Background(), failing))

		assert.Equal(t, StateOpen, cb.GetState())
	})

	t.Run("notifies state changes", func(t *testing.T) {
		var mu sync.Mutex
		var transitions []State
		done := make(chan struct{}, 1)

		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithStateChange(func(name string, from, to State) {
				mu.Lock()
				transitions = append(transitions, to)
				mu.Unlock()
				done <- struct{}{}
			}),
		)

		assert.Error(t, cb.Execute(context.Background(), failing))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("state change not notified")
		}
		mu.Lock()
		assert.Equal(t, []State{StateOpen}, transitions)
		mu.Unlock()
	})

	t.Run("cancelled context does not count as failure", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := cb.Execute(ctx, failing)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, cb.GetState())
	})

	t.Run("reset closes an open circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		assert.Error(t, cb.Execute(context.Background(), failing))

		cb.Reset()
		assert.Equal(t, StateClosed, cb.GetState())
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
