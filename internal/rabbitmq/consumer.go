package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one delivery. It owns acknowledging it.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery)

// Consumer manages message consumption from the source queue
type Consumer struct {
	prefetchCount int
	exclusive     bool
	ordered       bool
	consumerTag   string
	logger        *slog.Logger
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithOrdered handles deliveries one at a time in arrival order instead of
// one goroutine per delivery
func WithOrdered(ordered bool) ConsumerOption {
	return func(c *Consumer) {
		c.ordered = ordered
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(options ...ConsumerOption) *Consumer {
	c := &Consumer{
		prefetchCount: 10,
		exclusive:     true,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscription is an active consumer on the source queue
type Subscription struct {
	ctx         context.Context
	queue       string
	consumerTag string
	ch          *amqp.Channel
	ordered     bool
	logger      *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

// Subscribe sets Qos on the link's channel and starts consuming its queue
// with manual acknowledgment
func (c *Consumer) Subscribe(ctx context.Context, link *SourceLink, handler MessageHandler) (*Subscription, error) {
	ch := link.Channel()
	tag := c.consumerTag
	if tag == "" {
		tag = "mmate-relay-" + uuid.NewString()
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		return nil, &ConsumerError{
			Queue:       link.Queue,
			ConsumerTag: tag,
			Op:          "qos",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	deliveries, err := ch.Consume(
		link.Queue,
		tag,
		false, // autoAck
		c.exclusive,
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, &ConsumerError{
			Queue:       link.Queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         classifyQueueError(err),
			Timestamp:   time.Now(),
		}
	}

	sub := newSubscription(ctx, link.Queue, tag, ch, c.ordered, c.logger)
	go sub.run(deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", link.Queue,
		"consumerTag", tag,
		"channelId", link.ChannelID(),
		"prefetchCount", c.prefetchCount,
		"exclusive", c.exclusive,
		"ordered", c.ordered,
	)

	return sub, nil
}

func newSubscription(ctx context.Context, queue, tag string, ch *amqp.Channel, ordered bool, logger *slog.Logger) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	return &Subscription{
		ctx:         subCtx,
		queue:       queue,
		consumerTag: tag,
		ch:          ch,
		ordered:     ordered,
		logger:      logger,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// run dispatches deliveries until the broker closes the stream or the
// subscription is cancelled
func (s *Subscription) run(deliveries <-chan amqp.Delivery, handler MessageHandler) {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("delivery channel closed", "queue", s.queue)
				return
			}

			if s.ordered {
				handler(s.ctx, delivery)
				continue
			}

			s.inflight.Add(1)
			go func(d amqp.Delivery) {
				defer s.inflight.Done()
				handler(s.ctx, d)
			}(delivery)
		}
	}
}

// Queue returns the consumed queue
func (s *Subscription) Queue() string {
	return s.queue
}

// Done is closed when the delivery stream ends
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the broker consumer and the dispatch loop. Deliveries already
// dispatched keep running; unacknowledged ones are redelivered by the broker
// once the channel closes.
func (s *Subscription) Cancel() error {
	s.cancel()

	var err error
	if s.ch != nil && !s.ch.IsClosed() {
		err = ignoreClosed(s.ch.Cancel(s.consumerTag, false))
	}

	<-s.done
	return err
}

// Wait blocks until every dispatched delivery has been handled
func (s *Subscription) Wait() {
	s.inflight.Wait()
}
