package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nfrund/namefeed/internal/app"
	"github.com/nfrund/namefeed/internal/bridge"
	"github.com/nfrund/namefeed/internal/config"
	"github.com/nfrund/namefeed/internal/loop"
)

var listenFlags struct {
	url       string
	host      string
	port      int
	namesFile string
	stay      bool
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to the device and print incoming names",
	Long: `Connect to the device, print every name it sends and record it in the
name store. The command ends when the device closes the connection or on
Ctrl-C, which disconnects cleanly.`,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenFlags.url, "url", "", "device URL (tcp://, ws:// or wss://), overrides FEED_URL")
	f.StringVar(&listenFlags.host, "host", "", "device host, overrides FEED_HOST")
	f.IntVar(&listenFlags.port, "port", 0, "device port, overrides FEED_PORT")
	f.StringVar(&listenFlags.namesFile, "names-file", "", "store names in this file, overrides NAMES_FILE")
	f.BoolVar(&listenFlags.stay, "stay", false, "keep running after the device disconnects")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	applyListenFlags(cmd, cfg)
	cfg.Tracing.ServiceVersion = version
	if err := cfg.Validate(); err != nil {
		return err
	}
	ep, err := cfg.Endpoint()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := loop.New("main")
	deps, err := app.NewDependencies(ctx, cfg, consumer)
	if err != nil {
		return err
	}
	ctrl := app.NewController(deps)

	out := cmd.OutOrStdout()
	var feedErr error
	deps.Bridge.OnMessage(func(name string) {
		fmt.Fprintln(out, name)
	})
	deps.Bridge.OnEvent(func(ev bridge.Event) {
		switch ev.Kind {
		case bridge.EventError:
			feedErr = ev.Err()
		case bridge.EventDisconnected:
			if !listenFlags.stay {
				stop()
			}
		}
	})

	metricsSrv := serveMetrics(cfg.MetricsAddr, deps.Registry)

	if err := ctrl.StartFeed(ep); err != nil {
		_ = ctrl.Cleanup(context.Background())
		return err
	}
	slog.Info("Listening", "endpoint", ep.String())

	_ = consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()

	err = ctrl.Cleanup(shutdownCtx)
	if metricsSrv != nil {
		err = errors.Join(err, metricsSrv.Shutdown(shutdownCtx))
	}
	// Events queued while shutting down still reach the handlers above.
	consumer.ProcessEvents()

	return errors.Join(err, feedErr)
}

func applyListenFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.FeedURL = listenFlags.url
	}
	if flags.Changed("host") {
		cfg.FeedHost = listenFlags.host
		if !flags.Changed("url") {
			cfg.FeedURL = ""
		}
	}
	if flags.Changed("port") {
		cfg.FeedPort = listenFlags.port
		if !flags.Changed("url") {
			cfg.FeedURL = ""
		}
	}
	if flags.Changed("names-file") {
		cfg.NamesFile = listenFlags.namesFile
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("Serving metrics", "addr", addr)
	return srv
}
