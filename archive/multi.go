package archive

import (
	"context"
	"errors"

	"github.com/glimte/mmate-relay/contracts"
	"go.uber.org/multierr"
)

// Multi fans every write out to all of its stores
type Multi []Store

// Push implements Store. Every store is written even when an earlier one
// fails; the failures are combined.
func (m Multi) Push(ctx context.Context, id string, env contracts.Envelope) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Push(ctx, id, env))
	}
	return err
}

// Get implements Store, returning the first record found
func (m Multi) Get(ctx context.Context, id string) (*contracts.Envelope, error) {
	var errs error
	for _, s := range m {
		env, err := s.Get(ctx, id)
		if err == nil {
			return env, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrNotFound
}

// Close implements Store
func (m Multi) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
