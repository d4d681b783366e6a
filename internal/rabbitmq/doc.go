// Package rabbitmq holds the broker plumbing of the relay.
//
// This package includes:
//   - ConnectionManager: dials the source and destination brokers and binds the source queue
//   - Registry: the connections currently owned, closed together at shutdown
//   - Consumer: consumes the source queue with manual acknowledgment
//   - Publisher: republishes with publisher confirms
//   - TopologyManager: declares and inspects exchanges, queues and bindings
//
// Connections are never reconnected here; a lost connection is reported
// through Connection.Closed and the caller decides whether to start over.
package rabbitmq
