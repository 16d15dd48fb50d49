package hub

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handle identifies a subscription so it can be removed later.
type Handle uint64

// Callback receives one notified value.
type Callback[T any] func(T)

type subscriber[T any] struct {
	handle Handle
	fn     Callback[T]
}

// Hub is an ordered registry of callbacks. Notify calls every subscriber in the
// order it subscribed. The same function may be subscribed more than once; each
// subscription is called once per notification.
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers []subscriber[T]
	nextHandle  atomic.Uint64
	logger      *slog.Logger
}

// New creates an empty hub. The name is used to tag log output.
func New[T any](name string) *Hub[T] {
	return &Hub[T]{
		logger: slog.Default().With("component", "hub", "hub", name),
	}
}

// Subscribe registers fn and returns a handle for Unsubscribe.
func (h *Hub[T]) Subscribe(fn Callback[T]) Handle {
	handle := Handle(h.nextHandle.Add(1))

	h.mu.Lock()
	h.subscribers = append(h.subscribers, subscriber[T]{handle: handle, fn: fn})
	total := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Subscriber registered", "handle", handle, "total_subscribers", total)
	return handle
}

// Unsubscribe removes the subscription. It reports whether the handle was found.
func (h *Hub[T]) Unsubscribe(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subscribers {
		if s.handle != handle {
			continue
		}
		// Copy instead of re-slicing in place: an in-flight Notify may hold the old array.
		next := make([]subscriber[T], 0, len(h.subscribers)-1)
		next = append(next, h.subscribers[:i]...)
		next = append(next, h.subscribers[i+1:]...)
		h.subscribers = next
		h.logger.Debug("Subscriber unregistered", "handle", handle, "total_subscribers", len(next))
		return true
	}
	return false
}

// Notify delivers v to a snapshot of the current subscribers. Changes made by a
// callback take effect from the next Notify. A panicking callback is logged and
// the remaining subscribers are still called.
func (h *Hub[T]) Notify(v T) {
	h.mu.RLock()
	snapshot := h.subscribers
	h.mu.RUnlock()

	for _, s := range snapshot {
		h.safeCall(s, v)
	}
}

// Len returns the number of active subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub[T]) safeCall(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Subscriber panicked", "handle", s.handle, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	s.fn(v)
}
