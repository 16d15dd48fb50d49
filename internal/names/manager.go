package names

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nfrund/namefeed/internal/loop"
)

// ErrStopped is returned for requests made after Stop.
var ErrStopped = errors.New("name manager stopped")

// Manager runs a Store on its own goroutine so slow storage never blocks the
// caller. Requests are executed in the order they were made.
type Manager struct {
	store  Store
	loop   *loop.Loop
	logger *slog.Logger

	// ctx scopes storage calls; stopRun ends the loop goroutine.
	ctx     context.Context
	cancel  context.CancelFunc
	stopRun context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewManager starts a manager for store.
func NewManager(store Store) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	runCtx, stopRun := context.WithCancel(context.Background())
	m := &Manager{
		store:   store,
		loop:    loop.New("names"),
		logger:  slog.Default().With("component", "names"),
		ctx:     ctx,
		cancel:  cancel,
		stopRun: stopRun,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		_ = m.loop.Run(runCtx)
		// Requests accepted before Stop still run.
		m.loop.ProcessEvents()
	}()
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// StoreName queues name for storage and returns immediately. Storage failures
// are logged.
func (m *Manager) StoreName(name string) error {
	err := m.loop.Post(func() {
		if err := m.store.Store(m.ctx, name); err != nil {
			m.logger.Error("Failed to store name", "name", name, "error", err)
		}
	})
	if errors.Is(err, loop.ErrClosed) {
		return ErrStopped
	}
	return err
}

// RequestAll fetches every stored name on the manager goroutine and posts reply
// to the consumer loop with the result.
func (m *Manager) RequestAll(consumer *loop.Loop, reply func([]string, error)) error {
	err := m.loop.Post(func() {
		all, err := m.store.RetrieveAll(m.ctx)
		if perr := consumer.Post(func() { reply(all, err) }); perr != nil {
			m.logger.Warn("Dropping names reply", "error", perr)
		}
	})
	if errors.Is(err, loop.ErrClosed) {
		return ErrStopped
	}
	return err
}

// Flush blocks until every request queued before the call has run, or ctx ends.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := m.loop.Post(func() { close(done) }); err != nil {
		if errors.Is(err, loop.ErrClosed) {
			return ErrStopped
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new requests, runs the ones already queued and waits for the
// manager goroutine to exit. If ctx ends first, in-flight storage calls are
// cancelled and ctx's error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.once.Do(func() {
		m.loop.Close()
		m.stopRun()
	})
	select {
	case <-m.done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}
