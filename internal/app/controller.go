// Package app is the headless front end of namefeed: it greets names typed by
// the user, records every name in the name store and mirrors it in a local list,
// and feeds names arriving from the device into the same path.
//
// A Controller is owned by the goroutine that drains its consumer loop. Its
// methods and callbacks must only be used from there.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/namefeed/internal/bridge"
	"github.com/nfrund/namefeed/internal/hub"
	"github.com/nfrund/namefeed/internal/stream"
)

// Greeting prefixes the greeting shown for a submitted name.
const Greeting = "Hello"

// Controller is the application state driven from the consumer loop.
type Controller struct {
	deps   *Dependencies
	logger *slog.Logger

	greeting string
	names    []string
	status   bridge.Event

	changes *hub.Hub[[]string]
}

// NewController subscribes to the bridge and returns a controller with an
// empty list.
func NewController(deps *Dependencies) *Controller {
	c := &Controller{
		deps:    deps,
		logger:  slog.Default().With("component", "app"),
		changes: hub.New[[]string]("names"),
	}
	deps.Bridge.OnMessage(c.handleMessage)
	deps.Bridge.OnEvent(c.handleEvent)
	return c
}

// Greeting returns the current greeting text.
func (c *Controller) Greeting() string {
	return c.greeting
}

// Names returns the names currently in the list.
func (c *Controller) Names() []string {
	return append([]string(nil), c.names...)
}

// Status is the last lifecycle event of the device feed.
func (c *Controller) Status() bridge.Event {
	return c.status
}

// OnNamesChanged registers fn to receive the list after every change.
func (c *Controller) OnNamesChanged(fn func([]string)) hub.Handle {
	return c.changes.Subscribe(fn)
}

// Submit greets name, stores it and appends it to the list.
func (c *Controller) Submit(name string) {
	c.addName(name)
	c.greeting = fmt.Sprintf("%s %s", Greeting, name)
}

// Clear empties the list. Stored names are kept.
func (c *Controller) Clear() {
	c.names = nil
	c.changes.Notify(c.Names())
}

// Restore asks the name store for every name and replaces the list with the
// result once it arrives on the consumer loop.
func (c *Controller) Restore() error {
	return c.deps.Names.RequestAll(c.deps.Consumer, func(all []string, err error) {
		if err != nil {
			c.logger.Error("Failed to restore names", "error", err)
			return
		}
		c.names = append([]string(nil), all...)
		c.changes.Notify(c.Names())
	})
}

// StartFeed connects to the device at ep. Names it sends are handled like
// submitted names without changing the greeting.
func (c *Controller) StartFeed(ep stream.Endpoint) error {
	return c.deps.Bridge.Connect(ep)
}

// StopFeed disconnects from the device.
func (c *Controller) StopFeed(ctx context.Context) error {
	return c.deps.Bridge.Disconnect(ctx)
}

// Cleanup disconnects the feed and stops the name manager after pending writes.
func (c *Controller) Cleanup(ctx context.Context) error {
	return c.deps.Close(ctx)
}

func (c *Controller) addName(name string) {
	if err := c.deps.Names.StoreName(name); err != nil {
		c.logger.Warn("Name not stored", "name", name, "error", err)
	}
	c.names = append(c.names, name)
	c.changes.Notify(c.Names())
}

func (c *Controller) handleMessage(name string) {
	c.addName(name)
}

func (c *Controller) handleEvent(ev bridge.Event) {
	c.status = ev
	switch ev.Kind {
	case bridge.EventError:
		c.logger.Warn("Feed error", "endpoint", ev.Endpoint, "error", ev.Err())
	default:
		c.logger.Info("Feed "+string(ev.Kind), "endpoint", ev.Endpoint, "reason", ev.Reason)
	}
}
