// Package stream reads newline-delimited messages from a device connection on a
// dedicated goroutine and hands each decoded message to registered observers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nfrund/namefeed/internal/frame"
	"github.com/nfrund/namefeed/internal/hub"
)

const (
	// DefaultPollInterval bounds how long a read may block before the loop
	// checks for a stop request.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultChunkSize is the maximum number of bytes read per call. It is
	// kept small so partial frames are the common case.
	DefaultChunkSize = 64

	// maxTransientRetries is how many consecutive transient errors are tolerated
	// before the connection is considered broken.
	maxTransientRetries = 5
)

var (
	// ErrConnection wraps every failure to establish a connection.
	ErrConnection = errors.New("connection failed")
	// ErrFatalRead wraps read errors that leave the connection unusable.
	ErrFatalRead = errors.New("fatal read error")
	// ErrAlreadyStarted is returned when Start is called on a worker that was
	// started or stopped before.
	ErrAlreadyStarted = errors.New("worker already started")
)

// State is the worker lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ExitReason says why the read loop ended.
type ExitReason int

const (
	// ExitNone means the worker has not exited.
	ExitNone ExitReason = iota
	// ExitStopped means Stop was called.
	ExitStopped
	// ExitPeerClosed means the remote side closed the stream.
	ExitPeerClosed
	// ExitFatal means a read error made the connection unusable. Err holds it.
	ExitFatal
	// ExitConnectFailed means the connection was never established.
	ExitConnectFailed
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "none"
	case ExitStopped:
		return "stopped"
	case ExitPeerClosed:
		return "peer_closed"
	case ExitFatal:
		return "fatal"
	case ExitConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// Config tunes the read loop.
type Config struct {
	PollInterval time.Duration
	ChunkSize    int
	MaxFrameSize int
	Encoding     string
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		ChunkSize:    DefaultChunkSize,
	}
}

// Observer receives decoded messages on the worker goroutine.
type Observer func(frame.Message)

// Worker owns one device connection and its read loop.
type Worker struct {
	cfg         Config
	dialer      Dialer
	metrics     *Metrics
	observers   *hub.Hub[frame.Message]
	onConnected func()
	logger      *slog.Logger

	state    atomic.Int32
	stopping atomic.Bool

	mu         sync.Mutex
	conn       Conn
	dialCancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	reason   ExitReason
	err      error
}

// Option configures a Worker.
type Option func(*Worker)

// WithDialer replaces the default network dialer.
func WithDialer(d Dialer) Option {
	return func(w *Worker) {
		w.dialer = d
	}
}

// WithMetrics records worker activity in m.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConnectedHook runs fn inside Start once the connection is up, before the
// read loop can deliver any message.
func WithConnectedHook(fn func()) Option {
	return func(w *Worker) {
		w.onConnected = fn
	}
}

// WithLogger sets the logger used by the worker.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a worker in the Created state.
func NewWorker(cfg Config, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	w := &Worker{
		cfg:       cfg,
		dialer:    NetDialer{},
		observers: hub.New[frame.Message]("stream"),
		logger:    slog.Default().With("component", "stream"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddObserver registers fn. Observers run in registration order on the worker
// goroutine, once per message.
func (w *Worker) AddObserver(fn Observer) hub.Handle {
	return w.observers.Subscribe(hub.Callback[frame.Message](fn))
}

// RemoveObserver unregisters an observer added with AddObserver.
func (w *Worker) RemoveObserver(h hub.Handle) bool {
	return w.observers.Unsubscribe(h)
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Start dials ep and launches the read loop. Connection failures are returned
// synchronously wrapped in ErrConnection, and the worker ends in Stopped. A Stop
// that arrives while connecting abandons the dial; Start then returns nil and the
// worker exits with ExitStopped.
func (w *Worker) Start(ctx context.Context, ep Endpoint) error {
	if !w.state.CompareAndSwap(int32(StateCreated), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}
	logger := w.logger.With("endpoint", ep.String())

	dec, err := frame.NewDecoder(frame.WithMaxFrameSize(w.cfg.MaxFrameSize), frame.WithEncoding(w.cfg.Encoding))
	if err != nil {
		w.finish(ExitConnectFailed, err)
		return err
	}

	dialCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.stopping.Load() {
		w.mu.Unlock()
		cancel()
		w.finish(ExitStopped, nil)
		return nil
	}
	w.dialCancel = cancel
	w.mu.Unlock()

	logger.Debug("Connecting")
	conn, err := w.dialer.Dial(dialCtx, ep)
	cancel()
	if err != nil && w.stopping.Load() {
		logger.Debug("Connect abandoned after stop request", "error", err)
		w.finish(ExitStopped, nil)
		return nil
	}
	if err != nil {
		w.metrics.connected(false)
		err = fmt.Errorf("%w: %s: %w", ErrConnection, ep, err)
		w.finish(ExitConnectFailed, err)
		logger.Warn("Connection failed", "error", err)
		return err
	}
	w.metrics.connected(true)

	w.mu.Lock()
	if w.stopping.Load() {
		w.mu.Unlock()
		_ = conn.Close()
		w.finish(ExitStopped, nil)
		return nil
	}
	w.conn = conn
	w.mu.Unlock()

	w.state.CompareAndSwap(int32(StateConnecting), int32(StateRunning))
	logger.Info("Connected")
	if w.onConnected != nil {
		w.onConnected()
	}

	w.metrics.workerStarted()
	go w.run(conn, dec, logger)
	return nil
}

// Stop requests the read loop to exit and closes the connection. It does not
// wait; use Wait or Done for that. Calling Stop more than once is a no-op.
func (w *Worker) Stop() error {
	if w.stopping.Swap(true) {
		return nil
	}
	if w.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		w.finish(ExitStopped, nil)
		return nil
	}
	w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))

	w.mu.Lock()
	conn := w.conn
	cancel := w.dialCancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			w.logger.Debug("Close after stop request failed", "error", err)
		}
	}
	return nil
}

// Done is closed once the worker has reached Stopped and released its connection.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker has stopped.
func (w *Worker) Wait() {
	<-w.done
}

// Reason reports why the worker exited. It is ExitNone until Done is closed.
func (w *Worker) Reason() ExitReason {
	select {
	case <-w.done:
		return w.reason
	default:
		return ExitNone
	}
}

// Err returns the error that ended the worker, or nil for a stop request or a
// clean peer close. It is only meaningful after Done is closed.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *Worker) finish(reason ExitReason, err error) {
	w.doneOnce.Do(func() {
		w.reason = reason
		w.err = err
		w.state.Store(int32(StateStopped))
		close(w.done)
	})
}

func (w *Worker) run(conn Conn, dec *frame.Decoder, logger *slog.Logger) {
	reason, err := w.readLoop(conn, dec, logger)
	w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))

	_ = conn.Close()
	w.mu.Lock()
	w.conn = nil
	w.mu.Unlock()

	if pending := dec.Pending(); pending > 0 {
		logger.Debug("Discarding unterminated data", "bytes", pending)
	}
	dec.Reset()

	w.metrics.workerStopped()
	logger.Info("Worker stopped", "reason", reason.String(), "error", err)
	w.finish(reason, err)
}

func (w *Worker) readLoop(conn Conn, dec *frame.Decoder, logger *slog.Logger) (ExitReason, error) {
	buf := make([]byte, w.cfg.ChunkSize)
	transient := 0

	for {
		if w.stopping.Load() {
			return ExitStopped, nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(w.cfg.PollInterval))
		n, err := conn.Read(buf)

		if n > 0 {
			transient = 0
			w.metrics.received(n)
			w.deliver(dec, buf[:n], logger)
		}

		if err == nil {
			if n == 0 {
				return ExitPeerClosed, nil
			}
			continue
		}

		if w.stopping.Load() {
			return ExitStopped, nil
		}

		switch classifyReadError(err) {
		case readTimeout:
			continue
		case readPeerClosed:
			return ExitPeerClosed, nil
		case readTransient:
			transient++
			w.metrics.readError("transient")
			if transient <= maxTransientRetries {
				logger.Debug("Transient read error, retrying", "error", err, "attempt", transient)
				continue
			}
		}

		w.metrics.readError("fatal")
		return ExitFatal, fmt.Errorf("%w: %w", ErrFatalRead, err)
	}
}

func (w *Worker) deliver(dec *frame.Decoder, chunk []byte, logger *slog.Logger) {
	msgs, err := dec.Feed(chunk)
	if err != nil {
		w.metrics.dropped()
		logger.Warn("Dropping frame", "error", err)
	}
	for _, msg := range msgs {
		if w.stopping.Load() {
			return
		}
		w.observers.Notify(msg)
		w.metrics.delivered()
	}
}

type readErrorClass int

const (
	readTimeout readErrorClass = iota
	readPeerClosed
	readTransient
	readFatal
)

func classifyReadError(err error) readErrorClass {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return readTimeout
	case errors.Is(err, io.EOF):
		return readPeerClosed
	// Checked before net.Error: syscall.Errno reports EAGAIN as a timeout.
	case errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EAGAIN):
		return readTransient
	case errors.As(err, &netErr) && netErr.Timeout():
		return readTimeout
	default:
		return readFatal
	}
}
