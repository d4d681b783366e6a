package relay

import (
	"log/slog"

	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/internal/rabbitmq"
	"github.com/glimte/mmate-relay/messaging"
)

// relayConfig holds the collaborators of a Relay
type relayConfig struct {
	logger      *slog.Logger
	store       archive.Store
	observers   messaging.Observers
	listeners   []StateListener
	connOptions []rabbitmq.ConnectionOption
	connector   connector
}

// Option configures the relay
type Option func(*relayConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *relayConfig) {
		cfg.logger = logger
	}
}

// WithArchive sets the archival store. The relay closes it on shutdown.
func WithArchive(store archive.Store) Option {
	return func(cfg *relayConfig) {
		cfg.store = store
	}
}

// WithObserver registers an observer of published, returned and failed
// messages
func WithObserver(observer messaging.Observer) Option {
	return func(cfg *relayConfig) {
		cfg.observers = append(cfg.observers, observer)
	}
}

// WithStateListener registers a lifecycle state listener
func WithStateListener(listener StateListener) Option {
	return func(cfg *relayConfig) {
		cfg.listeners = append(cfg.listeners, listener)
	}
}

// WithConnectionOptions passes options to the broker connection manager
func WithConnectionOptions(options ...rabbitmq.ConnectionOption) Option {
	return func(cfg *relayConfig) {
		cfg.connOptions = append(cfg.connOptions, options...)
	}
}
