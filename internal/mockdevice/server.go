// Package mockdevice is a TCP server that plays back newline-delimited lines to
// every client, standing in for a real device in tests and demos.
package mockdevice

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Config controls what the server sends to each connection.
type Config struct {
	// Addr is the listen address. An empty value picks a free localhost port.
	Addr string
	// Lines are sent in order, each followed by a newline.
	Lines []string
	// Raw, if set, is sent verbatim after Lines.
	Raw []byte
	// ChunkSize splits the payload into writes of this many bytes. Zero sends it in one write.
	ChunkSize int
	// Delay is slept between writes.
	Delay time.Duration
	// KeepOpen leaves the connection open after the payload until the client or
	// server closes it. Otherwise the server closes right after writing.
	KeepOpen bool
	// Repeat keeps resending the payload while KeepOpen is set.
	Repeat bool
}

// Server accepts connections and writes the configured payload to each.
type Server struct {
	cfg      Config
	listener net.Listener
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	count int
}

// Start listens and begins accepting connections in the background.
func Start(cfg Config) (*Server, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		listener: ln,
		logger:   slog.Default().With("component", "mockdevice", "addr", ln.Addr().String()),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Info("Mock device listening")
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Host returns the listen host.
func (s *Server) Host() string {
	return s.Addr().IP.String()
}

// Port returns the listen port.
func (s *Server) Port() int {
	return s.Addr().Port
}

// Connections returns how many clients have connected so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close stops accepting, closes every open connection and waits for the
// handlers to return.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("Accept failed", "error", err)
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.count++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	payload := s.payload()
	for {
		if err := s.write(conn, payload); err != nil {
			s.logger.Debug("Write failed", "error", err)
			return
		}
		if !s.cfg.KeepOpen || !s.cfg.Repeat || len(payload) == 0 {
			break
		}
	}

	if s.cfg.KeepOpen {
		// Block until the client hangs up or the server shuts down.
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}
}

func (s *Server) payload() []byte {
	var b strings.Builder
	for _, line := range s.cfg.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.Write(s.cfg.Raw)
	return []byte(b.String())
}

func (s *Server) write(conn net.Conn, payload []byte) error {
	chunk := s.cfg.ChunkSize
	if chunk <= 0 {
		chunk = len(payload)
	}
	for len(payload) > 0 {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		n := min(chunk, len(payload))
		if _, err := conn.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if s.cfg.Delay > 0 {
			select {
			case <-time.After(s.cfg.Delay):
			case <-s.ctx.Done():
				return s.ctx.Err()
			}
		}
	}
	return nil
}
