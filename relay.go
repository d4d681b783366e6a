// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package relay drains a queue on one AMQP broker into another broker. Every
// message is archived, republished with publisher confirms and only then
// acknowledged on the source.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/internal/config"
	"github.com/glimte/mmate-relay/internal/rabbitmq"
	"github.com/glimte/mmate-relay/internal/reliability"
	"github.com/glimte/mmate-relay/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const maxBackoff = time.Minute

var (
	ErrAlreadyRunning    = errors.New("relay: already running")
	ErrShutdown          = errors.New("relay: shut down")
	ErrDeliveriesStopped = errors.New("relay: source delivery stream ended")
	ErrConnectionLost    = errors.New("relay: broker connection lost")
)

// connector opens and tracks the broker connections
type connector interface {
	ConnectSource(ctx context.Context, rawURL, queue string, channelID uint16) (*rabbitmq.SourceLink, error)
	ConnectDestination(ctx context.Context, rawURL string, onReturn func(amqp.Return)) (*rabbitmq.DestinationLink, error)
	CloseAll()
	Registry() *rabbitmq.Registry
}

// session is one established source and destination pair
type session struct {
	source      *rabbitmq.SourceLink
	destination *rabbitmq.DestinationLink
	sub         *rabbitmq.Subscription
}

// Relay owns the broker connections and moves messages from the source
// queue to the destination broker
type Relay struct {
	cfg       config.Config
	logger    *slog.Logger
	connector connector
	consumer  *rabbitmq.Consumer
	returns   *messaging.ReturnHandler
	store     archive.Store
	observers messaging.Observers
	listeners []StateListener

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	started  bool
	session  *session
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a relay for cfg. Nothing is connected until Run.
func New(cfg config.Config, options ...Option) *Relay {
	rc := &relayConfig{
		logger: slog.Default(),
		store:  archive.Nop{},
	}
	for _, opt := range options {
		opt(rc)
	}

	conn := rc.connector
	if conn == nil {
		registry := rabbitmq.NewRegistry(rabbitmq.WithRegistryLogger(rc.logger))
		connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(rc.logger)}, rc.connOptions...)
		conn = rabbitmq.NewConnectionManager(registry, connOpts...)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Relay{
		cfg:       cfg,
		logger:    rc.logger,
		connector: conn,
		consumer: rabbitmq.NewConsumer(
			rabbitmq.WithPrefetchCount(cfg.Prefetch),
			rabbitmq.WithExclusive(cfg.SourceExclusive),
			rabbitmq.WithOrdered(cfg.Ordered),
			rabbitmq.WithConsumerLogger(rc.logger),
		),
		store:     rc.store,
		observers: rc.observers,
		listeners: rc.listeners,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		done:      make(chan struct{}),
	}

	r.returns = messaging.NewReturnHandler(
		messaging.WithArchive(r.store),
		messaging.WithObserver(r.observers),
		messaging.WithLogger(r.logger),
		messaging.WithVerboseReturnBody(cfg.VerboseReturnBody),
	)

	return r
}

// Registry returns the registry of live broker connections
func (r *Relay) Registry() *rabbitmq.Registry {
	return r.connector.Registry()
}

// State returns the current lifecycle state
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the relay has stopped for good
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns why the relay stopped, nil after a clean shutdown
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Run connects both brokers and starts relaying. It returns nil once
// messages flow; relaying continues in the background until Shutdown. A
// failed attempt closes every connection and, when retry is enabled, is
// repeated after the retry delay. The returned error is the last attempt's.
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return ErrShutdown
	}
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.started = true
	r.mu.Unlock()

	if err := r.establish(ctx); err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
		return err
	}
	return nil
}

// establish runs connect attempts under the retry policy until one
// succeeds, the policy gives up or ctx or the relay is done
func (r *Relay) establish(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	attempt := func() error {
		err := r.connect(ctx)
		if err == nil {
			return nil
		}

		r.logger.Error("relay failed to start",
			"sourceQueue", r.cfg.SourceQueue,
			"error", err,
		)
		r.setState(StateClosing)
		r.CloseConnections()

		if !rabbitmq.IsRetryable(err) || ctx.Err() != nil {
			return reliability.Permanent(err)
		}
		return err
	}

	var err error
	if r.cfg.Retry {
		err = reliability.RetryWithNotify(ctx, r.retryPolicy(), attempt, func(n int, err error, delay time.Duration) {
			r.setState(StateRetrying)
			r.logger.Warn("retrying relay", "attempt", n, "delay", delay, "error", err)
		})
	} else {
		err = attempt()
	}

	if err == nil {
		return nil
	}

	var permanent reliability.RetryableError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if r.ctx.Err() != nil {
		err = ErrShutdown
	}

	r.setState(StateIdle)
	return err
}

func (r *Relay) retryPolicy() reliability.RetryPolicy {
	if r.cfg.RetryBackoff {
		return reliability.NewExponentialBackoff(r.cfg.RetryDelay, maxBackoff, 2.0, r.cfg.RetryMaxAttempts)
	}
	return reliability.NewFixedDelay(r.cfg.RetryDelay, r.cfg.RetryMaxAttempts)
}

// connect opens the source then the destination and installs the
// subscription
func (r *Relay) connect(ctx context.Context) error {
	r.setState(StateConnecting)

	source, err := r.connector.ConnectSource(ctx, r.cfg.SourceURL, r.cfg.SourceQueue, r.cfg.SourceChannel)
	if err != nil {
		return err
	}

	destination, err := r.connector.ConnectDestination(ctx, r.cfg.DestinationURL, r.onReturn)
	if err != nil {
		return err
	}

	publisher := rabbitmq.NewPublisher(destination, rabbitmq.WithConfirmTimeout(r.cfg.ConfirmTimeout))
	engine := messaging.NewEngine(publisher,
		messaging.WithArchive(r.store),
		messaging.WithObserver(r.observers),
		messaging.WithLogger(r.logger),
		messaging.WithDestinationQueue(r.cfg.DestinationQueue),
		messaging.WithSourceChannel(source.ChannelID()),
	)

	sub, err := r.consumer.Subscribe(r.ctx, source, engine.Handle)
	if err != nil {
		return err
	}

	sess := &session{source: source, destination: destination, sub: sub}

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		sub.Cancel()
		return ErrShutdown
	}
	r.session = sess
	r.mu.Unlock()

	r.setState(StateRunning)
	r.logger.Info("relay running",
		"sourceQueue", source.Queue,
		"queued", source.Messages,
		"channelId", source.ChannelID(),
		"destination", destination.Host,
		"destinationQueue", r.cfg.DestinationQueue,
		"archive", archive.Describe(r.store),
	)

	go r.supervise(sess)
	return nil
}

func (r *Relay) onReturn(ret amqp.Return) {
	r.returns.HandleReturn(r.ctx, ret)
}

// supervise waits for the session to break and reconnects when retry is
// enabled
func (r *Relay) supervise(sess *session) {
	var cause error

	select {
	case <-r.ctx.Done():
		return
	case err := <-sess.source.Closed():
		cause = lostError(rabbitmq.RoleSource, err)
	case err := <-sess.destination.Closed():
		cause = lostError(rabbitmq.RoleDestination, err)
	case <-sess.sub.Done():
		cause = ErrDeliveriesStopped
	}

	if r.ctx.Err() != nil {
		return
	}

	r.logger.Error("relay interrupted", "error", cause)
	r.setState(StateClosing)
	r.dropSession(sess)
	r.CloseConnections()

	if !r.cfg.Retry {
		r.setState(StateIdle)
		r.finish(cause)
		return
	}

	r.setState(StateRetrying)
	if err := r.establish(r.ctx); err != nil {
		if errors.Is(err, ErrShutdown) {
			return
		}
		r.finish(err)
	}
}

func lostError(role rabbitmq.Role, err *amqp.Error) error {
	if err == nil {
		return fmt.Errorf("%w: %s closed", ErrConnectionLost, role)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnectionLost, role, err)
}

// dropSession stops consuming on sess if it is still the current session
func (r *Relay) dropSession(sess *session) {
	r.mu.Lock()
	if r.session != sess {
		r.mu.Unlock()
		return
	}
	r.session = nil
	r.mu.Unlock()

	if err := sess.sub.Cancel(); err != nil {
		r.logger.Debug("failed to cancel consumer", "queue", sess.sub.Queue(), "error", err)
	}
}

// CloseConnections closes every tracked broker connection. Safe to call any
// number of times, also when nothing was connected.
func (r *Relay) CloseConnections() {
	r.connector.CloseAll()
}

// Shutdown stops relaying and any pending retry, closes every connection
// and the archive. Messages in flight are not awaited; unacknowledged ones
// are redelivered by the source broker. An error is returned only when
// closing fails unexpectedly or ctx ends first.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	r.cancel()
	r.setState(StateClosing)

	closed := make(chan error, 1)
	go func() {
		closed <- r.closeAll()
	}()

	var err error
	select {
	case err = <-closed:
	case <-ctx.Done():
		err = fmt.Errorf("relay: shutdown: %w", ctx.Err())
	}

	r.setState(StateIdle)
	r.finish(err)

	if err != nil {
		r.logger.Error("relay shutdown failed", "error", err)
		return err
	}

	r.logger.Info("relay stopped")
	return nil
}

func (r *Relay) closeAll() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("relay: shutdown panicked: %v", p)
		}
	}()

	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess != nil {
		r.dropSession(sess)
	}

	r.CloseConnections()

	if r.store != nil {
		if cerr := r.store.Close(); cerr != nil {
			r.logger.Warn("failed to close archive", "error", cerr)
		}
	}
	return nil
}

// finish marks the relay as stopped with err
func (r *Relay) finish(err error) {
	r.doneOnce.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.done)
	})
}

func (r *Relay) setState(to State) {
	r.mu.Lock()
	from := r.state
	if from == to {
		r.mu.Unlock()
		return
	}
	r.state = to
	listeners := r.listeners
	r.mu.Unlock()

	r.logger.Info("relay state changed", "from", from.String(), "to", to.String())
	for _, l := range listeners {
		l(from, to)
	}
}
