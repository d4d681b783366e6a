// Package contracts defines the values that flow through the relay.
//
// An Envelope captures one message taken from the source queue: its id, the
// source channel, the original exchange and routing key, every AMQP property
// and the raw body. Envelopes are archived as JSON and converted back into
// an amqp.Publishing for the destination broker without modification.
//
// The package also defines the events reported to observers (published,
// returned, failed) and the message id helpers.
package contracts
