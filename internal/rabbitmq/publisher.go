package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmChannel is the part of *amqp.Channel the publisher needs
type confirmChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Publisher republishes messages on the destination channel and waits for
// the broker to confirm each one
type Publisher struct {
	ch             confirmChannel
	host           string
	confirmTimeout time.Duration
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout caps the wait for a broker confirm. Zero waits as long
// as the publish context allows.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// NewPublisher creates a publisher on the destination link
func NewPublisher(link *DestinationLink, options ...PublisherOption) *Publisher {
	return newPublisher(link.Channel(), link.Host, options...)
}

func newPublisher(ch confirmChannel, host string, options ...PublisherOption) *Publisher {
	p := &Publisher{
		ch:   ch,
		host: host,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Host identifies the destination broker
func (p *Publisher) Host() string {
	return p.host
}

// Publish sends msg and blocks until the broker acks it. A broker nack
// yields ErrPublishNotConfirmed and an expired confirm timeout yields
// ErrPublishTimeout; both come wrapped in a *PublishError.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, mandatory bool, msg amqp.Publishing) error {
	if p.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()
	}

	publishErr := func(err error) error {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  mandatory,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, mandatory, false, msg)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			err = ErrChannelClosed
		}
		return publishErr(p.timeoutError(err))
	}

	// nil when the channel is not in confirm mode
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return publishErr(p.timeoutError(err))
	}
	if !acked {
		return publishErr(ErrPublishNotConfirmed)
	}

	return nil
}

func (p *Publisher) timeoutError(err error) error {
	if p.confirmTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		return ErrPublishTimeout
	}
	return err
}
