// Package reliability provides the retry and circuit breaking primitives used
// by the relay.
//
// Retry policies drive the reconnect loop of the lifecycle controller:
//   - FixedDelay retries at a constant interval, forever when MaxAttempts is 0
//   - ExponentialBackoff grows the interval up to a ceiling
//
// The circuit breaker guards optional archive backends so a cache outage
// does not add a network round trip to every relayed message.
//
// Example usage:
//
//	err := RetryWithNotify(ctx, NewFixedDelay(2*time.Second, 0), connect,
//	    func(attempt int, err error, delay time.Duration) {
//	        logger.Warn("connect failed", "attempt", attempt, "error", err)
//	    })
package reliability
