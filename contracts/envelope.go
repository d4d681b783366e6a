package contracts

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Properties holds the AMQP basic properties of a message as they were
// received, so the relay can republish them unchanged. Timestamps are kept
// in UTC.
type Properties struct {
	Headers         Headers   `json:"headers,omitempty"`
	ContentType     string    `json:"contentType,omitempty"`
	ContentEncoding string    `json:"contentEncoding,omitempty"`
	DeliveryMode    uint8     `json:"deliveryMode,omitempty"`
	Priority        uint8     `json:"priority,omitempty"`
	CorrelationID   string    `json:"correlationId,omitempty"`
	ReplyTo         string    `json:"replyTo,omitempty"`
	Expiration      string    `json:"expiration,omitempty"`
	MessageID       string    `json:"messageId,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
	Type            string    `json:"type,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	AppID           string    `json:"appId,omitempty"`
}

// ReturnInfo is attached to envelopes built from broker returns.
type ReturnInfo struct {
	ReplyCode uint16 `json:"replyCode"`
	ReplyText string `json:"replyText"`
}

// Envelope is one relayed message: where it came from, how it was routed,
// its properties and its body. It is also the archival record.
type Envelope struct {
	ID         string      `json:"id"`
	ChannelID  uint16      `json:"channelId"`
	Exchange   string      `json:"exchange"`
	RoutingKey string      `json:"routingKey"`
	Properties Properties  `json:"properties"`
	Body       []byte      `json:"body"`
	Return     *ReturnInfo `json:"return,omitempty"`
}

// FromDelivery builds the envelope for a delivery received on the given
// source channel.
func FromDelivery(id string, channelID uint16, d amqp.Delivery) Envelope {
	return Envelope{
		ID:         id,
		ChannelID:  channelID,
		Exchange:   d.Exchange,
		RoutingKey: d.RoutingKey,
		Properties: Properties{
			Headers:         NewHeaders(d.Headers),
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageID:       d.MessageId,
			Timestamp:       d.Timestamp.UTC(),
			Type:            d.Type,
			UserID:          d.UserId,
			AppID:           d.AppId,
		},
		Body: d.Body,
	}
}

// FromReturn builds the envelope for a message the destination broker
// could not route.
func FromReturn(id string, r amqp.Return) Envelope {
	return Envelope{
		ID:         id,
		Exchange:   r.Exchange,
		RoutingKey: r.RoutingKey,
		Properties: Properties{
			Headers:         NewHeaders(r.Headers),
			ContentType:     r.ContentType,
			ContentEncoding: r.ContentEncoding,
			DeliveryMode:    r.DeliveryMode,
			Priority:        r.Priority,
			CorrelationID:   r.CorrelationId,
			ReplyTo:         r.ReplyTo,
			Expiration:      r.Expiration,
			MessageID:       r.MessageId,
			Timestamp:       r.Timestamp.UTC(),
			Type:            r.Type,
			UserID:          r.UserId,
			AppID:           r.AppId,
		},
		Body: r.Body,
		Return: &ReturnInfo{
			ReplyCode: r.ReplyCode,
			ReplyText: r.ReplyText,
		},
	}
}

// Publishing converts the envelope back into an AMQP publishing carrying the
// original properties and body.
func (e Envelope) Publishing() amqp.Publishing {
	p := e.Properties
	return amqp.Publishing{
		Headers:         p.Headers.Table(),
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		UserId:          p.UserID,
		AppId:           p.AppID,
		Body:            e.Body,
	}
}

// LogAttrs returns the routing metadata used in log lines. The body is
// never part of it.
func (e Envelope) LogAttrs() []any {
	return []any{
		"messageId", e.ID,
		"channelId", e.ChannelID,
		"exchange", e.Exchange,
		"routingKey", e.RoutingKey,
		"bodySize", len(e.Body),
	}
}
