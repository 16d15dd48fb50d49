// Package loop provides a single-consumer task queue that acts as the execution
// context of a foreground component. Any goroutine may post work; the work runs
// only where the owner drains the queue, either by calling ProcessEvents from its
// own goroutine or by handing the loop to Run.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned by Post after the loop has been closed.
var ErrClosed = errors.New("loop closed")

// Task is a unit of work executed on the loop's context.
type Task func()

// Loop is an unbounded FIFO of tasks with many producers and one consumer.
type Loop struct {
	mu     sync.Mutex
	queue  []Task
	closed bool

	// wake holds at most one pending signal for a consumer blocked in Wait or Run.
	wake chan struct{}

	// consuming serializes draining so tasks never run on two goroutines at once.
	consuming sync.Mutex

	logger *slog.Logger
}

// New creates an empty loop. The name tags log output.
func New(name string) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		logger: slog.Default().With("component", "loop", "loop", name),
	}
}

// Post enqueues a task. It never blocks and is safe for concurrent use.
func (l *Loop) Post(task Task) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// HasPendingEvents reports whether tasks are waiting to run.
func (l *Loop) HasPendingEvents() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0
}

// ProcessEvents runs queued tasks on the calling goroutine until the queue is
// empty, including tasks posted by the tasks themselves. It returns the number
// of tasks executed.
func (l *Loop) ProcessEvents() int {
	l.consuming.Lock()
	defer l.consuming.Unlock()

	n := 0
	for {
		task, ok := l.pop()
		if !ok {
			return n
		}
		l.run(task)
		n++
	}
}

// Wait blocks until at least one task is pending or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	for {
		if l.HasPendingEvents() {
			return nil
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run drains the loop on the calling goroutine until ctx is cancelled. Tasks
// still queued when ctx ends are left for a later ProcessEvents.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("Loop started")
	defer l.logger.Debug("Loop stopped")
	for {
		if err := l.Wait(ctx); err != nil {
			return err
		}
		l.ProcessEvents()
	}
}

// Close rejects further posts. Tasks already queued can still be processed.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Loop) pop() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	if len(l.queue) == 0 {
		l.queue = nil
	}
	return task, true
}

func (l *Loop) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
