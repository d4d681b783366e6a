package messaging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReturn(messageID string) amqp.Return {
	return amqp.Return{
		ReplyCode:   amqp.NoRoute,
		ReplyText:   "NO_ROUTE",
		Exchange:    "test-exchange",
		RoutingKey:  "unbound.key",
		MessageId:   messageID,
		ContentType: "text/plain",
		Body:        []byte("returned-payload"),
	}
}

func TestReturnHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("archives under a returned id and reports", func(t *testing.T) {
		store := archive.NewMemoryStore()
		obs := &recordingObserver{}
		h := NewReturnHandler(WithArchive(store), WithObserver(obs))

		id := h.HandleReturn(ctx, newReturn("order-42"))

		assert.Equal(t, "returned-order-42", id)
		rec, err := store.Get(ctx, "returned-order-42")
		require.NoError(t, err)
		require.NotNil(t, rec.Return)
		assert.Equal(t, uint16(amqp.NoRoute), rec.Return.ReplyCode)
		assert.Equal(t, "NO_ROUTE", rec.Return.ReplyText)
		assert.Equal(t, "unbound.key", rec.RoutingKey)
		assert.Equal(t, []byte("returned-payload"), rec.Body)

		require.Len(t, obs.returned, 1)
		assert.Equal(t, "order-42", obs.returned[0].Return.MessageId)
	})

	t.Run("synthesizes ids with the returned prefix", func(t *testing.T) {
		store := archive.NewMemoryStore()
		h := NewReturnHandler(WithArchive(store))

		id := h.HandleReturn(ctx, newReturn(""))

		assert.True(t, contracts.IsReturnedID(id))
		assert.Greater(t, len(id), len(contracts.ReturnedPrefix))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("logs without body by default", func(t *testing.T) {
		var logs bytes.Buffer
		h := NewReturnHandler(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

		h.HandleReturn(ctx, newReturn("m-1"))

		out := logs.String()
		assert.Contains(t, out, "level=WARN")
		assert.Contains(t, out, "replyCode=312")
		assert.Contains(t, out, "routingKey=unbound.key")
		assert.NotContains(t, out, "returned-payload")
	})

	t.Run("verbose mode logs the body", func(t *testing.T) {
		var logs bytes.Buffer
		h := NewReturnHandler(
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
			WithVerboseReturnBody(true),
		)

		h.HandleReturn(ctx, newReturn("m-1"))

		assert.True(t, strings.Contains(logs.String(), "body=returned-payload"))
	})

	t.Run("archive failure is reported and the return still emitted", func(t *testing.T) {
		obs := &recordingObserver{}
		h := NewReturnHandler(WithArchive(failingStore{}), WithObserver(obs))

		h.HandleReturn(ctx, newReturn("m-1"))

		require.Len(t, obs.failed, 1)
		assert.Equal(t, contracts.StageArchive, obs.failed[0].Stage)
		assert.Len(t, obs.returned, 1)
	})
}
