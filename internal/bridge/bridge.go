// Package bridge connects a device stream worker to a consumer context.
//
// The worker runs on its own goroutine. Every message it decodes, and every
// lifecycle event of the connection, is published on an in-process bus and then
// posted to the consumer's loop, so subscriber callbacks only ever run where the
// consumer drains that loop. Delivery is FIFO and exactly once per session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/namefeed/internal/frame"
	"github.com/nfrund/namefeed/internal/hub"
	"github.com/nfrund/namefeed/internal/loop"
	"github.com/nfrund/namefeed/internal/pubsub"
	"github.com/nfrund/namefeed/internal/stream"
)

const (
	// TopicMessages carries decoded message text.
	TopicMessages = "feed.messages"
	// TopicEvents carries JSON encoded lifecycle events.
	TopicEvents = "feed.events"

	// DefaultShutdownTimeout bounds how long Disconnect waits for the worker.
	DefaultShutdownTimeout = 5 * time.Second
)

var (
	// ErrAlreadyConnected is returned by Connect while a session is running.
	ErrAlreadyConnected = errors.New("bridge already connected")
	// ErrShutdownTimeout is returned by Disconnect when the worker did not exit in time.
	// The connection has been closed regardless.
	ErrShutdownTimeout = errors.New("worker shutdown timed out")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("bridge closed")
)

// Config controls the bridge and the workers it starts.
type Config struct {
	Stream          stream.Config
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Stream:          stream.DefaultConfig(),
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Bridge owns at most one device session at a time and relays its output into
// the consumer loop.
type Bridge struct {
	cfg     Config
	loop    *loop.Loop
	bus     pubsub.PubSub
	ownsBus bool
	dialer  stream.Dialer
	metrics *stream.Metrics
	logger  *slog.Logger

	messages *hub.Hub[string]
	events   *hub.Hub[Event]

	subCtx    context.Context
	subCancel context.CancelFunc

	mu       sync.Mutex
	current  *session
	sessions map[string]*session // sessions whose output may still be delivered
	closed   bool

	wg sync.WaitGroup
}

type session struct {
	id       string
	endpoint stream.Endpoint
	worker   *stream.Worker
	finished chan struct{} // closed after the session's last publish
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(b *Bridge) {
		b.cfg = cfg
	}
}

// WithBus relays through ps instead of a private watermill GoChannel. The bus
// must deliver messages of a topic in publish order.
func WithBus(ps pubsub.PubSub) Option {
	return func(b *Bridge) {
		b.bus = ps
	}
}

// WithDialer sets the dialer handed to every worker.
func WithDialer(d stream.Dialer) Option {
	return func(b *Bridge) {
		b.dialer = d
	}
}

// WithMetrics shares m with every worker.
func WithMetrics(m *stream.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// New creates a bridge that delivers to consumer. The bridge subscribes to its
// bus immediately.
func New(consumer *loop.Loop, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		cfg:      DefaultConfig(),
		loop:     consumer,
		logger:   slog.Default().With("component", "bridge"),
		messages: hub.New[string]("messages"),
		events:   hub.New[Event]("events"),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.ShutdownTimeout <= 0 {
		b.cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if b.bus == nil {
		b.bus = pubsub.NewWatermillBridge()
		b.ownsBus = true
	}

	b.subCtx, b.subCancel = context.WithCancel(context.Background())
	if err := b.bus.Subscribe(b.subCtx, TopicMessages, b.relayMessage); err != nil {
		b.subCancel()
		return nil, fmt.Errorf("subscribe %s: %w", TopicMessages, err)
	}
	if err := b.bus.Subscribe(b.subCtx, TopicEvents, b.relayEvent); err != nil {
		b.subCancel()
		return nil, fmt.Errorf("subscribe %s: %w", TopicEvents, err)
	}
	return b, nil
}

// Messages is the registry notified with every delivered message.
func (b *Bridge) Messages() *hub.Hub[string] {
	return b.messages
}

// Events is the registry notified with lifecycle events.
func (b *Bridge) Events() *hub.Hub[Event] {
	return b.events
}

// OnMessage subscribes fn to delivered messages.
func (b *Bridge) OnMessage(fn func(string)) hub.Handle {
	return b.messages.Subscribe(fn)
}

// OnEvent subscribes fn to lifecycle events.
func (b *Bridge) OnEvent(fn func(Event)) hub.Handle {
	return b.events.Subscribe(fn)
}

// Connected reports whether a session's worker is still running.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil && !b.current.exited()
}

// Connect starts a session against ep and returns without waiting for the
// connection. The outcome arrives as events on the consumer loop. While a
// session's worker is running, Connect returns ErrAlreadyConnected.
func (b *Bridge) Connect(ep stream.Endpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.current != nil && !b.current.exited() {
		return ErrAlreadyConnected
	}

	s := &session{
		id:       uuid.NewString(),
		endpoint: ep,
		finished: make(chan struct{}),
	}

	opts := []stream.Option{
		stream.WithMetrics(b.metrics),
		stream.WithLogger(b.logger.With("session", s.id)),
		stream.WithConnectedHook(func() {
			b.publishEvent(Event{Kind: EventConnected, SessionID: s.id, Endpoint: ep.String()})
		}),
	}
	if b.dialer != nil {
		opts = append(opts, stream.WithDialer(b.dialer))
	}
	s.worker = stream.NewWorker(b.cfg.Stream, opts...)
	s.worker.AddObserver(func(m frame.Message) {
		b.publishMessage(s, m)
	})

	b.current = s
	b.sessions[s.id] = s

	b.wg.Add(1)
	go b.runSession(s)

	b.logger.Info("Session started", "session", s.id, "endpoint", ep.String())
	return nil
}

// Disconnect stops the current session and waits for its worker to exit. Once
// it returns, no further message or event of that session is delivered, even
// if some were already queued on the consumer loop. Calling it without an
// active session is a no-op. When the worker does not exit in time the session
// stays current, and Connect is refused, until it does.
func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	s := b.current
	if s != nil {
		delete(b.sessions, s.id)
	}
	b.mu.Unlock()

	if s == nil {
		return nil
	}

	if err := s.worker.Stop(); err != nil {
		b.logger.Warn("Worker stop failed", "session", s.id, "error", err)
	}

	timer := time.NewTimer(b.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-s.finished:
		b.release(s)
		b.logger.Info("Session disconnected", "session", s.id)
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	b.logger.Error("Session did not stop in time", "session", s.id, "timeout", b.cfg.ShutdownTimeout)
	return fmt.Errorf("%w: session %s", ErrShutdownTimeout, s.id)
}

// Close disconnects, stops relaying and releases the bus if the bridge created it.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.Disconnect(ctx)

	b.subCancel()
	if b.ownsBus {
		if cerr := b.bus.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

func (b *Bridge) runSession(s *session) {
	defer b.wg.Done()
	defer close(s.finished)

	if err := s.worker.Start(b.subCtx, s.endpoint); err != nil && !errors.Is(err, stream.ErrAlreadyStarted) {
		b.publishEvent(errorEvent(s.id, s.endpoint, err))
	}
	s.worker.Wait()

	if s.worker.Reason() == stream.ExitFatal {
		b.publishEvent(errorEvent(s.id, s.endpoint, s.worker.Err()))
	}
	b.publishEvent(Event{
		Kind:      EventDisconnected,
		SessionID: s.id,
		Endpoint:  s.endpoint.String(),
		Reason:    s.worker.Reason().String(),
	})
}

func (b *Bridge) publishMessage(s *session, m frame.Message) {
	err := b.bus.Publish(b.subCtx, pubsub.Message{
		Topic:     TopicMessages,
		SessionID: s.id,
		Payload:   []byte(m),
	})
	if err != nil {
		b.logger.Debug("Dropping message, bus unavailable", "session", s.id, "error", err)
	}
}

func (b *Bridge) publishEvent(ev Event) {
	payload, err := encodeEvent(ev)
	if err != nil {
		b.logger.Error("Failed to encode event", "kind", ev.Kind, "error", err)
		return
	}
	err = b.bus.Publish(b.subCtx, pubsub.Message{
		Topic:     TopicEvents,
		SessionID: ev.SessionID,
		Payload:   payload,
	})
	if err != nil {
		b.logger.Debug("Dropping event, bus unavailable", "session", ev.SessionID, "kind", ev.Kind, "error", err)
	}
}

// relayMessage runs on the bus subscriber goroutine and hands the message to
// the consumer loop.
func (b *Bridge) relayMessage(_ context.Context, msg pubsub.Message) error {
	text := string(msg.Payload)
	id := msg.SessionID
	return b.post(func() {
		if !b.deliverable(id) {
			return
		}
		b.messages.Notify(text)
	})
}

func (b *Bridge) relayEvent(_ context.Context, msg pubsub.Message) error {
	ev, err := decodeEvent(msg.Payload)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return b.post(func() {
		if !b.deliverable(ev.SessionID) {
			return
		}
		if ev.Kind == EventDisconnected {
			b.retire(ev.SessionID)
		}
		b.events.Notify(ev)
	})
}

func (b *Bridge) post(task loop.Task) error {
	if err := b.loop.Post(task); err != nil {
		b.logger.Debug("Consumer loop rejected task", "error", err)
	}
	return nil
}

func (b *Bridge) deliverable(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sessionID]
	return ok
}

// retire forgets a session once its final event has reached the consumer.
func (b *Bridge) retire(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
	if b.current != nil && b.current.id == sessionID {
		b.current = nil
	}
}

// release clears s as the current session once its worker has exited.
func (b *Bridge) release(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == s {
		b.current = nil
	}
}

func (s *session) exited() bool {
	select {
	case <-s.worker.Done():
		return true
	default:
		return false
	}
}
