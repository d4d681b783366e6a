package messaging

import (
	"log/slog"

	"github.com/glimte/mmate-relay/archive"
)

type options struct {
	store            archive.Store
	observer         Observer
	logger           *slog.Logger
	destinationQueue string
	sourceChannel    uint16
	verboseBody      bool
}

// Option configures the Engine and the ReturnHandler
type Option func(*options)

// WithArchive sets the store every message is archived to
func WithArchive(store archive.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithObserver registers the observer of relay outcomes
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDestinationQueue republishes every message directly to queue through
// the default exchange instead of the original exchange and routing key
func WithDestinationQueue(queue string) Option {
	return func(o *options) {
		o.destinationQueue = queue
	}
}

// WithSourceChannel records the source channel number on every envelope
func WithSourceChannel(id uint16) Option {
	return func(o *options) {
		o.sourceChannel = id
	}
}

// WithVerboseReturnBody includes the message body in return logs
func WithVerboseReturnBody(verbose bool) Option {
	return func(o *options) {
		o.verboseBody = verbose
	}
}

func newOptions(opts []Option) options {
	o := options{
		store:    archive.Nop{},
		observer: NoOpObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = archive.Nop{}
	}
	if o.observer == nil {
		o.observer = NoOpObserver{}
	}
	return o
}
