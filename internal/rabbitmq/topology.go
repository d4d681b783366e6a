package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares and inspects exchanges, queues and bindings. Each
// operation runs on its own short-lived channel so a failed passive check
// cannot close the channel messages are relayed on.
type TopologyManager struct {
	conn *amqp.Connection
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology represents a set of declarations applied together
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// NewTopologyManager creates a topology manager on conn
func NewTopologyManager(conn *amqp.Connection) *TopologyManager {
	return &TopologyManager{conn: conn}
}

// DeclareTopology declares exchanges, then queues, then bindings
func (tm *TopologyManager) DeclareTopology(ctx context.Context, topology Topology) error {
	return tm.execute(ctx, func(ch *amqp.Channel) error {
		for _, exchange := range topology.Exchanges {
			if err := declareExchange(ch, exchange); err != nil {
				return err
			}
		}

		for _, queue := range topology.Queues {
			if _, err := declareQueue(ch, queue); err != nil {
				return err
			}
		}

		for _, binding := range topology.Bindings {
			if err := bindQueue(ch, binding); err != nil {
				return err
			}
		}

		return nil
	})
}

// DeclareExchange declares a single exchange
func (tm *TopologyManager) DeclareExchange(ctx context.Context, exchange ExchangeDeclaration) error {
	return tm.execute(ctx, func(ch *amqp.Channel) error {
		return declareExchange(ch, exchange)
	})
}

// DeclareQueue declares a single queue
func (tm *TopologyManager) DeclareQueue(ctx context.Context, queue QueueDeclaration) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = declareQueue(ch, queue)
		return err
	})
	return q, err
}

// BindQueue creates a queue binding
func (tm *TopologyManager) BindQueue(ctx context.Context, binding Binding) error {
	return tm.execute(ctx, func(ch *amqp.Channel) error {
		return bindQueue(ch, binding)
	})
}

// DeleteQueue deletes a queue
func (tm *TopologyManager) DeleteQueue(ctx context.Context, name string) error {
	return tm.execute(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDelete(name, false, false, false); err != nil {
			return &TopologyError{Component: "queue", Name: name, Op: "delete", Err: err, Timestamp: time.Now()}
		}
		return nil
	})
}

// DeleteExchange deletes an exchange
func (tm *TopologyManager) DeleteExchange(ctx context.Context, name string) error {
	return tm.execute(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDelete(name, false, false); err != nil {
			return &TopologyError{Component: "exchange", Name: name, Op: "delete", Err: err, Timestamp: time.Now()}
		}
		return nil
	})
}

// InspectQueue returns the message and consumer counts of an existing queue
func (tm *TopologyManager) InspectQueue(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueDeclarePassive(name, false, false, false, false, nil)
		if err != nil {
			return &TopologyError{Component: "queue", Name: name, Op: "inspect", Err: classifyQueueError(err), Timestamp: time.Now()}
		}
		return nil
	})
	return q, err
}

func (tm *TopologyManager) execute(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tm.conn == nil || tm.conn.IsClosed() {
		return ErrConnectionClosed
	}

	ch, err := tm.conn.Channel()
	if err != nil {
		return &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	defer ch.Close()

	return fn(ch)
}

func declareExchange(ch *amqp.Channel, exchange ExchangeDeclaration) error {
	kind := exchange.Type
	if kind == "" {
		kind = amqp.ExchangeTopic
	}

	err := ch.ExchangeDeclare(
		exchange.Name,
		kind,
		exchange.Durable,
		exchange.AutoDelete,
		false, // internal
		false, // no-wait
		exchange.Arguments,
	)
	if err != nil {
		return &TopologyError{Component: "exchange", Name: exchange.Name, Op: "declare", Err: err, Timestamp: time.Now()}
	}
	return nil
}

func declareQueue(ch *amqp.Channel, queue QueueDeclaration) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // no-wait
		queue.Arguments,
	)
	if err != nil {
		return q, &TopologyError{Component: "queue", Name: queue.Name, Op: "declare", Err: err, Timestamp: time.Now()}
	}
	return q, nil
}

func bindQueue(ch *amqp.Channel, binding Binding) error {
	err := ch.QueueBind(
		binding.Queue,
		binding.RoutingKey,
		binding.Exchange,
		false, // no-wait
		binding.Arguments,
	)
	if err != nil {
		return &TopologyError{Component: "binding", Name: binding.Queue + "->" + binding.Exchange, Op: "declare", Err: err, Timestamp: time.Now()}
	}
	return nil
}
