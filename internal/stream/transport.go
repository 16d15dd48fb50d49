package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Conn is the part of a connection the read loop needs: reads that honour a
// deadline so the loop can wake up and check for cancellation.
type Conn interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// Dialer opens a connection to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// NetDialer dials TCP endpoints with the net package and websocket endpoints
// with coder/websocket.
type NetDialer struct {
	Timeout time.Duration
}

// Dial implements Dialer.
func (d NetDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	switch ep.Scheme {
	case "", "tcp":
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", ep.Address())
	case "ws", "wss":
		c, _, err := websocket.Dial(ctx, ep.URL(), nil)
		if err != nil {
			return nil, err
		}
		c.SetReadLimit(-1)
		return newWSConn(c), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", ep.Scheme)
	}
}

// wsConn exposes the payload of incoming websocket messages as one byte stream.
// A pump goroutine performs the blocking websocket reads so Read can time out.
type wsConn struct {
	c      *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	chunks  chan []byte
	pending []byte
	readErr error // valid once chunks is closed

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
}

func newWSConn(c *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	w := &wsConn{
		c:      c,
		ctx:    ctx,
		cancel: cancel,
		chunks: make(chan []byte),
	}
	go w.pump()
	return w
}

func (w *wsConn) pump() {
	defer close(w.chunks)
	for {
		_, data, err := w.c.Read(w.ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				w.readErr = io.EOF
			case w.ctx.Err() != nil:
				w.readErr = net.ErrClosed
			default:
				w.readErr = err
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case w.chunks <- data:
		case <-w.ctx.Done():
			w.readErr = net.ErrClosed
			return
		}
	}
}

func (w *wsConn) Read(p []byte) (int, error) {
	if len(w.pending) == 0 {
		w.mu.Lock()
		deadline := w.deadline
		w.mu.Unlock()

		var timeout <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case data, ok := <-w.chunks:
			if !ok {
				return 0, w.readErr
			}
			w.pending = data
		case <-timeout:
			return 0, os.ErrDeadlineExceeded
		}
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	w.mu.Lock()
	w.deadline = t
	w.mu.Unlock()
	return nil
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		// No close handshake: a stalled peer must not delay shutdown.
		w.cancel()
		_ = w.c.CloseNow()
	})
	return nil
}
