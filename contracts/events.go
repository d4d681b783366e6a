package contracts

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Stage names the step of the relay where a message failed.
type Stage string

const (
	StageArchive Stage = "archive"
	StagePublish Stage = "publish"
	StageAck     Stage = "ack"
)

// PublishedEvent is emitted once a message has been confirmed by the
// destination broker and acknowledged on the source.
type PublishedEvent struct {
	DestinationHost string
	ID              string
	Envelope        Envelope
}

// ReturnedEvent carries a message the destination broker could not route.
type ReturnedEvent struct {
	Return amqp.Return
}

// FailedEvent reports a per-message failure. Archive failures do not stop
// the message from being relayed; publish failures cause a requeue.
type FailedEvent struct {
	ID       string
	Stage    Stage
	Envelope Envelope
	Err      error
}
