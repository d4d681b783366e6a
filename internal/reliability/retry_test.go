package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedDelay(t *testing.T) {
	t.Run("creates with correct values", func(t *testing.T) {
		fd := NewFixedDelay(2*time.Second, 3)

		assert.Equal(t, 2*time.Second, fd.Delay)
		assert.Equal(t, 3, fd.MaxAttempts)
		assert.Equal(t, 3, fd.MaxRetries())
	})

	t.Run("NextDelay always returns same delay", func(t *testing.T) {
		fd := NewFixedDelay(750*time.Millisecond, 10)

		for i := 0; i < 10; i++ {
			assert.Equal(t, 750*time.Millisecond, fd.NextDelay(i))
		}
	})

	t.Run("zero max attempts retries forever", func(t *testing.T) {
		fd := NewFixedDelay(2*time.Second, 0)

		for _, attempt := range []int{0, 1, 100, 100000} {
			shouldRetry, delay := fd.ShouldRetry(attempt, errors.New("connection refused"))
			assert.True(t, shouldRetry)
			assert.Equal(t, 2*time.Second, delay)
		}
		assert.Equal(t, 0, fd.MaxRetries())
	})

	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		fd := NewFixedDelay(10*time.Millisecond, 2)

		shouldRetry, _ := fd.ShouldRetry(1, errors.New("test"))
		assert.True(t, shouldRetry)

		shouldRetry, delay := fd.ShouldRetry(2, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Equal(t, time.Duration(0), delay)
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("NextDelay calculates exponential backoff", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{2, 400 * time.Millisecond},
			{3, 800 * time.Millisecond},
			{10, 10 * time.Second},
		}

		for _, tt := range tests {
			t.Run(time.Duration(tt.attempt).String(), func(t *testing.T) {
				assert.Equal(t, tt.expected, eb.NextDelay(tt.attempt))
			})
		}
	})

	t.Run("respects non-retryable errors", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 0)

		shouldRetry, _ := eb.ShouldRetry(0, Permanent(errors.New("bad url")))
		assert.False(t, shouldRetry)
	})
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(100*time.Millisecond, 3), func() error {
			attempts++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries on failure and notifies", func(t *testing.T) {
		attempts := 0
		var notified []int

		err := RetryWithNotify(context.Background(), NewFixedDelay(10*time.Millisecond, 0), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		}, func(attempt int, err error, delay time.Duration) {
			notified = append(notified, attempt)
			assert.Equal(t, 10*time.Millisecond, delay)
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []int{1, 2}, notified)
	})

	t.Run("returns last error after max retries", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(10*time.Millisecond, 2), func() error {
			attempts++
			return errors.New("persistent error")
		})

		assert.EqualError(t, err, "persistent error")
		assert.Equal(t, 3, attempts)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := int32(0)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err := Retry(ctx, NewFixedDelay(time.Second, 0), func() error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("error")
		})

		assert.Equal(t, context.Canceled, err)
		assert.LessOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		attempts := 0

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 0), func() error {
			attempts++
			if attempts == 2 {
				return Permanent(errors.New("fatal error"))
			}
			return errors.New("retryable error")
		})

		assert.EqualError(t, err, "fatal error")
		assert.Equal(t, 2, attempts)
	})
}

func TestRetryableError(t *testing.T) {
	baseErr := errors.New("wrapped error")
	err := RetryableError{Err: baseErr, Retryable: true}

	assert.Equal(t, "wrapped error", err.Error())
	assert.True(t, err.IsRetryable())
	assert.ErrorIs(t, err, baseErr)
	assert.Nil(t, Permanent(nil))
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("unknown error")))
}
