package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is matched by every CircuitBreakerError
	ErrCircuitOpen  = errors.New("circuit breaker: circuit is open")
	ErrUnknownState = errors.New("circuit breaker: unknown state")
)

// CircuitBreakerError is returned when a call is rejected by an open circuit
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	retryIn := time.Until(e.NextRetry).Round(time.Second)
	return fmt.Sprintf("circuit breaker %s %s: call blocked (failures=%d/%d, retry in %v)",
		e.Name, e.State, e.Failures, e.FailureThreshold, retryIn)
}

// Is makes errors.Is(err, ErrCircuitOpen) true
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// IsRetryable reports that rejected calls should not be retried in a loop
func (e *CircuitBreakerError) IsRetryable() bool {
	return false
}
