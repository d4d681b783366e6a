package archive

import (
	"context"

	"github.com/glimte/mmate-relay/contracts"
)

// Nop discards every record. Used when all archival backends are disabled.
type Nop struct{}

// Push implements Store
func (Nop) Push(context.Context, string, contracts.Envelope) error { return nil }

// Get implements Store
func (Nop) Get(context.Context, string) (*contracts.Envelope, error) { return nil, ErrNotFound }

// Close implements Store
func (Nop) Close() error { return nil }
