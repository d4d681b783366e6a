package archive

import (
	"context"
	"errors"

	"github.com/glimte/mmate-relay/contracts"
)

var (
	// ErrNotFound is returned by Get when no record exists for an id
	ErrNotFound = errors.New("archive: record not found")
	// ErrEmptyID is returned when a record is pushed without an id
	ErrEmptyID = errors.New("archive: empty id")
)

// Store persists a copy of every relayed envelope under its id so an
// operator can recover messages after a partial failure. Writes are
// best effort: callers log and count failures but never stop relaying.
type Store interface {
	// Push writes env under id, overwriting any previous record
	Push(ctx context.Context, id string, env contracts.Envelope) error

	// Get reads the record stored under id
	Get(ctx context.Context, id string) (*contracts.Envelope, error)

	// Close releases the resources held by the store
	Close() error
}
