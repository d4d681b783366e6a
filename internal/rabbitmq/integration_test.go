//go:build integration

package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/mmate-relay/internal/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDeclareQueue(t *testing.T, url string, q QueueDeclaration) {
	t.Helper()
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewTopologyManager(conn).DeclareQueue(context.Background(), q)
	require.NoError(t, err)
}

func TestConnectionManagerIntegration(t *testing.T) {
	url := testutil.StartRabbitMQ(t)
	ctx := context.Background()

	t.Run("binds an existing queue and registers the connection", func(t *testing.T) {
		mustDeclareQueue(t, url, QueueDeclaration{Name: "it-existing", Durable: true})
		registry := NewRegistry()
		cm := NewConnectionManager(registry)

		link, err := cm.ConnectSource(ctx, url, "it-existing", 0)
		require.NoError(t, err)

		assert.Equal(t, uint16(1), link.ChannelID())
		handle, ok := registry.Get(RoleSource)
		require.True(t, ok)
		assert.False(t, handle.IsClosed())

		cm.CloseAll()
		assert.True(t, link.IsClosed())
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("pins the source channel number", func(t *testing.T) {
		mustDeclareQueue(t, url, QueueDeclaration{Name: "it-pinned", Durable: true})
		cm := NewConnectionManager(NewRegistry())
		defer cm.CloseAll()

		link, err := cm.ConnectSource(ctx, url, "it-pinned", 3)
		require.NoError(t, err)

		assert.Equal(t, uint16(3), link.ChannelID())
		assert.False(t, link.Channel().IsClosed())
	})

	t.Run("missing queue is not created", func(t *testing.T) {
		registry := NewRegistry()
		cm := NewConnectionManager(registry)

		_, err := cm.ConnectSource(ctx, url, "it-does-not-exist", 0)

		assert.ErrorIs(t, err, ErrQueueNotFound)
		assert.Equal(t, 0, registry.Len())

		conn, err := amqp.Dial(url)
		require.NoError(t, err)
		defer conn.Close()
		_, err = NewTopologyManager(conn).InspectQueue(ctx, "it-does-not-exist")
		assert.ErrorIs(t, err, ErrQueueNotFound)
	})

	t.Run("exclusive consumer locks the queue", func(t *testing.T) {
		mustDeclareQueue(t, url, QueueDeclaration{Name: "it-locked", Durable: true})

		first := NewConnectionManager(NewRegistry())
		defer first.CloseAll()
		link, err := first.ConnectSource(ctx, url, "it-locked", 0)
		require.NoError(t, err)
		_, err = NewConsumer().Subscribe(ctx, link, func(context.Context, amqp.Delivery) {})
		require.NoError(t, err)

		second := NewConnectionManager(NewRegistry())
		defer second.CloseAll()
		link2, err := second.ConnectSource(ctx, url, "it-locked", 0)
		require.NoError(t, err)
		_, err = NewConsumer().Subscribe(ctx, link2, func(context.Context, amqp.Delivery) {})

		assert.ErrorIs(t, err, ErrQueueLocked)
	})

	t.Run("publishes with confirms and reports returns", func(t *testing.T) {
		mustDeclareQueue(t, url, QueueDeclaration{Name: "it-dest", Durable: true})
		returned := make(chan amqp.Return, 1)

		cm := NewConnectionManager(NewRegistry())
		defer cm.CloseAll()
		link, err := cm.ConnectDestination(ctx, url, func(r amqp.Return) { returned <- r })
		require.NoError(t, err)

		p := NewPublisher(link, WithConfirmTimeout(5*time.Second))
		require.NoError(t, p.Publish(ctx, "", "it-dest", true, amqp.Publishing{Body: []byte("routed")}))
		require.NoError(t, p.Publish(ctx, "", "it-nowhere", true, amqp.Publishing{MessageId: "m-1", Body: []byte("lost")}))

		select {
		case r := <-returned:
			assert.Equal(t, "it-nowhere", r.RoutingKey)
			assert.Equal(t, "m-1", r.MessageId)
			assert.Equal(t, uint16(amqp.NoRoute), r.ReplyCode)
		case <-time.After(5 * time.Second):
			t.Fatal("return not received")
		}

		conn, err := amqp.Dial(url)
		require.NoError(t, err)
		defer conn.Close()
		q, err := NewTopologyManager(conn).InspectQueue(ctx, "it-dest")
		require.NoError(t, err)
		assert.Equal(t, 1, q.Messages)
	})

	t.Run("closed notification on broker side close", func(t *testing.T) {
		cm := NewConnectionManager(NewRegistry())
		link, err := cm.ConnectDestination(ctx, url, nil)
		require.NoError(t, err)

		require.NoError(t, link.AMQP().Close())

		select {
		case <-link.Closed():
		case <-time.After(5 * time.Second):
			t.Fatal("close not reported")
		}
		assert.True(t, link.IsClosed())
		assert.NotPanics(t, cm.CloseAll)
	})
}
