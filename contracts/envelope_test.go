package contracts

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivery() amqp.Delivery {
	return amqp.Delivery{
		Headers:         amqp.Table{"x-origin": "billing", "x-tenant": "acme"},
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		DeliveryMode:    amqp.Persistent,
		Priority:        3,
		CorrelationId:   "corr-1",
		ReplyTo:         "replies",
		Expiration:      "60000",
		MessageId:       "msg-1",
		Timestamp:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Type:            "invoice.created",
		UserId:          "guest",
		AppId:           "billing-api",
		Exchange:        "test-exchange",
		RoutingKey:      "invoices",
		Body:            []byte(`{"test": true}`),
	}
}

func TestFromDelivery(t *testing.T) {
	t.Run("copies routing metadata and properties", func(t *testing.T) {
		d := testDelivery()
		env := FromDelivery("msg-1", 7, d)

		assert.Equal(t, "msg-1", env.ID)
		assert.Equal(t, uint16(7), env.ChannelID)
		assert.Equal(t, "test-exchange", env.Exchange)
		assert.Equal(t, "invoices", env.RoutingKey)
		assert.Equal(t, "application/json", env.Properties.ContentType)
		assert.Equal(t, "corr-1", env.Properties.CorrelationID)
		assert.Equal(t, "billing", env.Properties.Headers["x-origin"])
		assert.Equal(t, d.Body, env.Body)
		assert.Nil(t, env.Return)
	})

	t.Run("publishing reproduces the delivery", func(t *testing.T) {
		d := testDelivery()
		p := FromDelivery("msg-1", 1, d).Publishing()

		assert.Equal(t, d.Headers, p.Headers)
		assert.Equal(t, d.ContentType, p.ContentType)
		assert.Equal(t, d.ContentEncoding, p.ContentEncoding)
		assert.Equal(t, d.DeliveryMode, p.DeliveryMode)
		assert.Equal(t, d.Priority, p.Priority)
		assert.Equal(t, d.CorrelationId, p.CorrelationId)
		assert.Equal(t, d.ReplyTo, p.ReplyTo)
		assert.Equal(t, d.Expiration, p.Expiration)
		assert.Equal(t, d.MessageId, p.MessageId)
		assert.Equal(t, d.Timestamp, p.Timestamp)
		assert.Equal(t, d.Type, p.Type)
		assert.Equal(t, d.UserId, p.UserId)
		assert.Equal(t, d.AppId, p.AppId)
		assert.Equal(t, d.Body, p.Body)
	})

	t.Run("large bodies are not copied or truncated", func(t *testing.T) {
		d := testDelivery()
		d.Body = bytes.Repeat([]byte("x"), 3*1024*1024)

		env := FromDelivery("big", 1, d)
		assert.Len(t, env.Publishing().Body, len(d.Body))
	})

	t.Run("log attributes omit the body", func(t *testing.T) {
		env := FromDelivery("msg-1", 1, testDelivery())
		for _, attr := range env.LogAttrs() {
			assert.NotEqual(t, env.Body, attr)
		}
	})
}

func TestFromReturn(t *testing.T) {
	ret := amqp.Return{
		ReplyCode:  312,
		ReplyText:  "NO_ROUTE",
		Exchange:   "test-exchange",
		RoutingKey: "nowhere",
		MessageId:  "msg-9",
		Body:       []byte("payload"),
	}

	env := FromReturn("returned-msg-9", ret)

	assert.Equal(t, "returned-msg-9", env.ID)
	assert.Equal(t, "nowhere", env.RoutingKey)
	require.NotNil(t, env.Return)
	assert.Equal(t, uint16(312), env.Return.ReplyCode)
	assert.Equal(t, "NO_ROUTE", env.Return.ReplyText)
}

func TestEnvelopeJSON(t *testing.T) {
	env := FromDelivery("msg-1", 2, testDelivery())

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env, decoded)
}

func TestMessageIDs(t *testing.T) {
	t.Run("uses broker id when present", func(t *testing.T) {
		assert.Equal(t, "abc", MessageID("abc"))
	})

	t.Run("synthesizes unique ordered ids", func(t *testing.T) {
		seen := make(map[string]bool)
		prev := ""
		for i := 0; i < 100; i++ {
			id := MessageID("")
			assert.NotEmpty(t, id)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
			assert.Greater(t, id, prev)
			prev = id
		}
	})

	t.Run("returned ids carry the prefix", func(t *testing.T) {
		assert.Equal(t, "returned-abc", ReturnedID("abc"))
		assert.True(t, IsReturnedID(ReturnedID("")))
		assert.False(t, IsReturnedID("abc"))
	})
}
