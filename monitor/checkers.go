package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/mmate-relay/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionChecker reports whether the connection registered under a role
// is open
type ConnectionChecker struct {
	registry *rabbitmq.Registry
	role     rabbitmq.Role
}

// NewConnectionChecker creates a checker for the connection of role
func NewConnectionChecker(registry *rabbitmq.Registry, role rabbitmq.Role) *ConnectionChecker {
	return &ConnectionChecker{registry: registry, role: role}
}

// Name implements Checker
func (c *ConnectionChecker) Name() string {
	return string(c.role) + "-connection"
}

// Check implements Checker
func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Timestamp: start,
	}

	handle, ok := c.registry.Get(c.role)
	switch {
	case !ok:
		result.Status = StatusUnhealthy
		result.Message = "not connected"
	case handle.IsClosed():
		result.Status = StatusUnhealthy
		result.Message = "connection is closed"
	default:
		if conn, ok := handle.(*rabbitmq.Connection); ok {
			result.Details = map[string]interface{}{
				"url":       conn.URL(),
				"channelId": conn.ChannelID(),
			}
		}
	}

	result.Duration = time.Since(start)
	return result
}

// QueueDepthChecker inspects the source queue on the source connection.
// The check degrades once the backlog exceeds the threshold.
type QueueDepthChecker struct {
	registry  *rabbitmq.Registry
	queue     string
	threshold int
}

// NewQueueDepthChecker creates a queue depth checker. A threshold of zero
// only reports the depth.
func NewQueueDepthChecker(registry *rabbitmq.Registry, queue string, threshold int) *QueueDepthChecker {
	return &QueueDepthChecker{registry: registry, queue: queue, threshold: threshold}
}

// Name implements Checker
func (c *QueueDepthChecker) Name() string {
	return "source-queue"
}

// Check implements Checker
func (c *QueueDepthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{"queue": c.queue},
	}
	defer func() { result.Duration = time.Since(start) }()

	conn := c.connection()
	if conn == nil {
		result.Status = StatusUnhealthy
		result.Message = "source not connected"
		return result
	}

	q, err := rabbitmq.NewTopologyManager(conn).InspectQueue(ctx, c.queue)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "failed to inspect queue"
		result.Error = err.Error()
		return result
	}

	result.Details["messages"] = q.Messages
	result.Details["consumers"] = q.Consumers
	result.Status = StatusHealthy

	if c.threshold > 0 && q.Messages > c.threshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("backlog of %d messages exceeds %d", q.Messages, c.threshold)
	}

	return result
}

func (c *QueueDepthChecker) connection() *amqp.Connection {
	handle, ok := c.registry.Get(rabbitmq.RoleSource)
	if !ok || handle.IsClosed() {
		return nil
	}
	conn, ok := handle.(*rabbitmq.Connection)
	if !ok {
		return nil
	}
	return conn.AMQP()
}

// Pinger is implemented by archive backends that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArchiveChecker pings the cache backend. An unreachable cache degrades the
// relay without stopping it.
type ArchiveChecker struct {
	pinger Pinger
}

// NewArchiveChecker creates an archive checker
func NewArchiveChecker(pinger Pinger) *ArchiveChecker {
	return &ArchiveChecker{pinger: pinger}
}

// Name implements Checker
func (c *ArchiveChecker) Name() string {
	return "archive-cache"
}

// Check implements Checker
func (c *ArchiveChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Timestamp: start,
	}

	if err := c.pinger.Ping(ctx); err != nil {
		result.Status = StatusDegraded
		result.Message = "cache unreachable"
		result.Error = err.Error()
	}

	result.Duration = time.Since(start)
	return result
}

// StateChecker maps the relay lifecycle state onto a health status
type StateChecker struct {
	state func() string
}

// NewStateChecker creates a checker reading the current state from fn
func NewStateChecker(fn func() string) *StateChecker {
	return &StateChecker{state: fn}
}

// Name implements Checker
func (c *StateChecker) Name() string {
	return "relay"
}

// Check implements Checker
func (c *StateChecker) Check(ctx context.Context) CheckResult {
	state := c.state()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"state": state},
	}

	switch state {
	case "running":
		result.Status = StatusHealthy
	case "connecting", "retrying":
		result.Status = StatusDegraded
		result.Message = "relay is " + state
	default:
		result.Status = StatusUnhealthy
		result.Message = "relay is " + state
	}

	return result
}
