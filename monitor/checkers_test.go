package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-relay/internal/rabbitmq"
	"github.com/stretchr/testify/assert"
)

type fakeHandle struct {
	closed bool
}

func (h *fakeHandle) IsClosed() bool { return h.closed }
func (h *fakeHandle) Close() error   { h.closed = true; return nil }

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestConnectionChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("unhealthy when not registered", func(t *testing.T) {
		c := NewConnectionChecker(rabbitmq.NewRegistry(), rabbitmq.RoleSource)

		result := c.Check(ctx)

		assert.Equal(t, "source-connection", c.Name())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "not connected", result.Message)
	})

	t.Run("healthy while open", func(t *testing.T) {
		registry := rabbitmq.NewRegistry()
		registry.Register(rabbitmq.RoleDestination, &fakeHandle{})

		result := NewConnectionChecker(registry, rabbitmq.RoleDestination).Check(ctx)

		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("unhealthy once closed", func(t *testing.T) {
		registry := rabbitmq.NewRegistry()
		registry.Register(rabbitmq.RoleDestination, &fakeHandle{closed: true})

		result := NewConnectionChecker(registry, rabbitmq.RoleDestination).Check(ctx)

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "connection is closed", result.Message)
	})
}

func TestQueueDepthChecker(t *testing.T) {
	t.Run("unhealthy without a source connection", func(t *testing.T) {
		c := NewQueueDepthChecker(rabbitmq.NewRegistry(), "orders", 100)

		result := c.Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "orders", result.Details["queue"])
	})
}

func TestArchiveChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewArchiveChecker(fakePinger{}).Check(context.Background()).Status)

	result := NewArchiveChecker(fakePinger{err: errors.New("dial tcp: connection refused")}).Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Error, "connection refused")
}

func TestStateChecker(t *testing.T) {
	tests := []struct {
		state string
		want  Status
	}{
		{"running", StatusHealthy},
		{"connecting", StatusDegraded},
		{"retrying", StatusDegraded},
		{"closing", StatusUnhealthy},
		{"idle", StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			c := NewStateChecker(func() string { return tt.state })
			result := c.Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.state, result.Details["state"])
		})
	}
}
