package archive

import (
	"context"
	"errors"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/glimte/mmate-relay/internal/reliability"
)

// Guarded puts a circuit breaker in front of a store. Once the store has
// failed repeatedly, writes fail immediately with reliability.ErrCircuitOpen
// until the breaker lets a trial write through.
type Guarded struct {
	store   Store
	breaker *reliability.CircuitBreaker
}

// NewGuarded wraps store with the given breaker
func NewGuarded(store Store, breaker *reliability.CircuitBreaker) *Guarded {
	return &Guarded{store: store, breaker: breaker}
}

// Breaker returns the circuit breaker guarding the store
func (g *Guarded) Breaker() *reliability.CircuitBreaker {
	return g.breaker
}

// Unwrap returns the guarded store
func (g *Guarded) Unwrap() Store {
	return g.store
}

// Push implements Store
func (g *Guarded) Push(ctx context.Context, id string, env contracts.Envelope) error {
	return g.breaker.Execute(ctx, func() error {
		return g.store.Push(ctx, id, env)
	})
}

// Get implements Store. A missing record does not count as a failure.
func (g *Guarded) Get(ctx context.Context, id string) (*contracts.Envelope, error) {
	var env *contracts.Envelope
	notFound := false

	err := g.breaker.Execute(ctx, func() error {
		var err error
		env, err = g.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrNotFound
	}
	return env, nil
}

// Close implements Store
func (g *Guarded) Close() error {
	return g.store.Close()
}
