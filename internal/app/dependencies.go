package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nfrund/namefeed/internal/bridge"
	"github.com/nfrund/namefeed/internal/config"
	"github.com/nfrund/namefeed/internal/loop"
	"github.com/nfrund/namefeed/internal/names"
	"github.com/nfrund/namefeed/internal/pubsub"
	"github.com/nfrund/namefeed/internal/stream"
)

// Dependencies holds the core services the controller is built on.
// It is assembled by the application entrypoint.
type Dependencies struct {
	Consumer *loop.Loop
	Names    *names.Manager
	Bridge   *bridge.Bridge
	Bus      pubsub.PubSub
	Registry *prometheus.Registry

	shutdownTracing func()
}

// NewDependencies wires the name store, relay bus, metrics and bridge from cfg.
// The returned Dependencies must be released with Close.
func NewDependencies(ctx context.Context, cfg *config.Config, consumer *loop.Loop) (*Dependencies, error) {
	tracer, shutdownTracing, err := pubsub.SetupOTel(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := stream.NewMetrics(registry)
	if err != nil {
		shutdownTracing()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var store names.Store = names.NewMemoryStore()
	if cfg.NamesFile != "" {
		store = names.NewOSFileStore(cfg.NamesFile)
	}

	bus := pubsub.NewWatermillBridge(pubsub.WithTracer(tracer))
	b, err := bridge.New(consumer,
		bridge.WithConfig(cfg.Bridge()),
		bridge.WithBus(bus),
		bridge.WithMetrics(metrics),
	)
	if err != nil {
		_ = bus.Close()
		shutdownTracing()
		return nil, err
	}

	return &Dependencies{
		Consumer:        consumer,
		Names:           names.NewManager(store),
		Bridge:          b,
		Bus:             bus,
		Registry:        registry,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close disconnects the bridge, stops the name manager and releases the bus and
// tracer. Queued name writes are completed first.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Bridge != nil {
		errs = append(errs, d.Bridge.Close(ctx))
	}
	if d.Names != nil {
		errs = append(errs, d.Names.Stop(ctx))
	}
	if d.Bus != nil {
		errs = append(errs, d.Bus.Close())
	}
	if d.shutdownTracing != nil {
		d.shutdownTracing()
	}
	return errors.Join(errs...)
}
