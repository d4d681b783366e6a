package messaging

import (
	"context"
	"log/slog"

	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends a message to the destination broker and returns once the
// broker has confirmed it
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, mandatory bool, msg amqp.Publishing) error
	Host() string
}

// Engine relays one source delivery at a time: archive it, republish it,
// then ack or requeue it on the source. It holds no per-message state and is
// safe for concurrent use.
type Engine struct {
	publisher        Publisher
	store            archive.Store
	observer         Observer
	logger           *slog.Logger
	destinationQueue string
	sourceChannel    uint16
}

// NewEngine creates an engine publishing through publisher
func NewEngine(publisher Publisher, opts ...Option) *Engine {
	o := newOptions(opts)
	return &Engine{
		publisher:        publisher,
		store:            o.store,
		observer:         o.observer,
		logger:           o.logger,
		destinationQueue: o.destinationQueue,
		sourceChannel:    o.sourceChannel,
	}
}

// Route returns the exchange and routing key env is republished with
func (e *Engine) Route(env contracts.Envelope) (exchange, routingKey string) {
	if e.destinationQueue != "" {
		return "", e.destinationQueue
	}
	return env.Exchange, env.RoutingKey
}

// Handle relays d. The source delivery is acked only after the destination
// broker confirmed the republish; any publish failure requeues it.
func (e *Engine) Handle(ctx context.Context, d amqp.Delivery) {
	id := contracts.MessageID(d.MessageId)
	env := contracts.FromDelivery(id, e.sourceChannel, d)
	logger := e.logger.With(env.LogAttrs()...)

	if err := e.store.Push(ctx, id, env); err != nil {
		logger.Warn("failed to archive message", "error", err)
		e.observer.OnFailed(contracts.FailedEvent{ID: id, Stage: contracts.StageArchive, Envelope: env, Err: err})
	}

	exchange, routingKey := e.Route(env)

	if err := e.publisher.Publish(ctx, exchange, routingKey, true, env.Publishing()); err != nil {
		logger.Error("failed to republish message",
			"destinationExchange", exchange,
			"destinationRoutingKey", routingKey,
			"error", err,
		)
		e.observer.OnFailed(contracts.FailedEvent{ID: id, Stage: contracts.StagePublish, Envelope: env, Err: err})

		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		// the broker redelivers it, so the destination may see it twice
		logger.Error("failed to ack message", "error", err)
		e.observer.OnFailed(contracts.FailedEvent{ID: id, Stage: contracts.StageAck, Envelope: env, Err: err})
		return
	}

	e.observer.OnPublished(contracts.PublishedEvent{
		DestinationHost: e.publisher.Host(),
		ID:              id,
		Envelope:        env,
	})

	logger.Debug("message relayed", "destination", e.publisher.Host())
}
