package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

const (
	defaultDialTimeout = 30 * time.Second
	defaultHeartbeat   = 10 * time.Second
)

// Connection is one broker connection with the single channel the relay
// uses on it
type Connection struct {
	role      Role
	url       string
	conn      *amqp.Connection
	ch        *amqp.Channel
	channelID uint16
	closed    chan *amqp.Error

	closeOnce sync.Once
	closeErr  error
}

func newConnection(role Role, rawURL string, conn *amqp.Connection, ch *amqp.Channel, channelID uint16) *Connection {
	c := &Connection{
		role:      role,
		url:       SanitizeURL(rawURL),
		conn:      conn,
		ch:        ch,
		channelID: channelID,
		closed:    make(chan *amqp.Error, 1),
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		var err *amqp.Error
		select {
		case err = <-connClosed:
		case err = <-chClosed:
		}
		c.closed <- err
		close(c.closed)
	}()

	return c
}

// Role returns the side of the relay this connection serves
func (c *Connection) Role() Role {
	return c.role
}

// URL returns the sanitized broker URL
func (c *Connection) URL() string {
	return c.url
}

// Channel returns the relay channel
func (c *Connection) Channel() *amqp.Channel {
	return c.ch
}

// ChannelID returns the number of the relay channel
func (c *Connection) ChannelID() uint16 {
	return c.channelID
}

// AMQP returns the underlying connection
func (c *Connection) AMQP() *amqp.Connection {
	return c.conn
}

// Closed receives the broker error, or nil on a graceful close, once the
// connection or its channel goes away
func (c *Connection) Closed() <-chan *amqp.Error {
	return c.closed
}

// IsClosed implements Handle
func (c *Connection) IsClosed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

// Close closes the channel then the connection. Closing an already closed
// connection is not an error.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		var err error
		if c.ch != nil {
			err = multierr.Append(err, ignoreClosed(c.ch.Close()))
		}
		if c.conn != nil {
			err = multierr.Append(err, ignoreClosed(c.conn.Close()))
		}
		c.closeErr = err
	})
	return c.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// SourceLink is the source connection bound to the queue being drained
type SourceLink struct {
	*Connection
	Queue string
	// Messages is the queue depth reported when binding
	Messages int
}

// DestinationLink is the destination connection with its channel in
// confirm mode
type DestinationLink struct {
	*Connection
	Host string
}

// ConnectionManager opens the source and destination connections and tracks
// them in a Registry
type ConnectionManager struct {
	registry    *Registry
	dialTimeout time.Duration
	heartbeat   time.Duration
	name        string
	logger      *slog.Logger
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialTimeout bounds each dial
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithHeartbeat sets the AMQP heartbeat interval
func WithHeartbeat(interval time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.heartbeat = interval
	}
}

// WithConnectionName sets the client-provided connection name prefix shown
// in the broker management UI
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.name = name
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(registry *Registry, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		registry:    registry,
		dialTimeout: defaultDialTimeout,
		heartbeat:   defaultHeartbeat,
		name:        "mmate-relay",
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Registry returns the registry connections are tracked in
func (cm *ConnectionManager) Registry() *Registry {
	return cm.registry
}

// ConnectSource dials the source broker, opens the relay channel and binds
// passively to queue. A channelID above 1 pins the channel number. The queue
// is never created: a missing queue yields ErrQueueNotFound and a queue
// owned by another connection yields ErrQueueLocked.
func (cm *ConnectionManager) ConnectSource(ctx context.Context, rawURL, queue string, channelID uint16) (*SourceLink, error) {
	if queue == "" {
		return nil, fmt.Errorf("%w: source queue is required", ErrInvalidConfiguration)
	}

	conn, err := cm.dial(ctx, RoleSource, rawURL)
	if err != nil {
		return nil, err
	}

	ch, id, err := openChannel(conn, channelID)
	if err != nil {
		conn.Close()
		return nil, err
	}

	q, err := ch.QueueDeclarePassive(queue, false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, &ConsumerError{
			Queue:     queue,
			Op:        "bind",
			Err:       classifyQueueError(err),
			Timestamp: time.Now(),
		}
	}

	link := &SourceLink{
		Connection: newConnection(RoleSource, rawURL, conn, ch, id),
		Queue:      queue,
		Messages:   q.Messages,
	}
	cm.registry.Register(RoleSource, link.Connection)

	cm.logger.Info("bound to source queue",
		"url", link.URL(),
		"queue", queue,
		"channelId", id,
		"messages", q.Messages,
	)

	return link, nil
}

// ConnectDestination dials the destination broker and opens the channel
// every republish goes through, in confirm mode. Broker returns of mandatory
// publishes are passed to onReturn.
func (cm *ConnectionManager) ConnectDestination(ctx context.Context, rawURL string, onReturn func(amqp.Return)) (*DestinationLink, error) {
	conn, err := cm.dial(ctx, RoleDestination, rawURL)
	if err != nil {
		return nil, err
	}

	ch, id, err := openChannel(conn, 0)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, &ChannelError{
			Op:        "enable confirms",
			ChannelID: id,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	returns := ch.NotifyReturn(make(chan amqp.Return, 16))
	go func() {
		for r := range returns {
			if onReturn != nil {
				onReturn(r)
			}
		}
	}()

	link := &DestinationLink{
		Connection: newConnection(RoleDestination, rawURL, conn, ch, id),
		Host:       hostFromURL(rawURL),
	}
	cm.registry.Register(RoleDestination, link.Connection)

	cm.logger.Info("connected to destination", "url", link.URL(), "channelId", id)

	return link, nil
}

// CloseAll closes every tracked connection
func (cm *ConnectionManager) CloseAll() {
	cm.registry.CloseAll()
}

// dial connects with the manager's timeout while honoring ctx
func (cm *ConnectionManager) dial(ctx context.Context, role Role, rawURL string) (*amqp.Connection, error) {
	connErr := func(err error) error {
		return &ConnectionError{
			Op:        "connect",
			Role:      role,
			URL:       SanitizeURL(rawURL),
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	if _, err := amqp.ParseURI(rawURL); err != nil {
		return nil, connErr(fmt.Errorf("%w: %w", ErrInvalidConfiguration, err))
	}
	if err := ctx.Err(); err != nil {
		return nil, connErr(err)
	}

	config := amqp.Config{
		Heartbeat: cm.heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cm.dialTimeout),
		Properties: amqp.Table{
			"connection_name": cm.name + "-" + string(role),
		},
	}

	connCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := amqp.DialConfig(rawURL, config)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, connErr(r.err)
		}
		return r.conn, nil

	case <-connCtx.Done():
		// close a connection that completes after we gave up on it
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, connErr(ctx.Err())
		}
		return nil, connErr(ErrConnectionTimeout)
	}
}

// openChannel opens the channel numbered channelID on a fresh connection.
// Channel numbers are allocated sequentially from 1, so the lower numbers
// are opened as placeholders and released once the wanted one is open.
func openChannel(conn *amqp.Connection, channelID uint16) (*amqp.Channel, uint16, error) {
	if channelID == 0 {
		channelID = 1
	}

	placeholders := make([]*amqp.Channel, 0, channelID-1)
	defer func() {
		for _, p := range placeholders {
			p.Close()
		}
	}()

	for n := uint16(1); ; n++ {
		ch, err := conn.Channel()
		if err != nil {
			return nil, 0, &ChannelError{
				Op:        "open",
				ChannelID: n,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
		if n == channelID {
			return ch, n, nil
		}
		placeholders = append(placeholders, ch)
	}
}

// hostFromURL returns host:port of an AMQP URL, used to label published
// messages
func hostFromURL(rawURL string) string {
	uri, err := amqp.ParseURI(rawURL)
	if err != nil {
		return SanitizeURL(rawURL)
	}
	return net.JoinHostPort(uri.Host, strconv.Itoa(uri.Port))
}
