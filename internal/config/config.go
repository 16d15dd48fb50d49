package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/nfrund/namefeed/internal/bridge"
	"github.com/nfrund/namefeed/internal/pubsub"
	"github.com/nfrund/namefeed/internal/stream"
)

// Config holds all configuration for the application.
type Config struct {
	FeedHost        string        `validate:"required"`
	FeedPort        int           `validate:"min=1,max=65535"`
	FeedURL         string        `validate:"omitempty,url"`
	PollInterval    time.Duration `validate:"gt=0"`
	ChunkSize       int           `validate:"min=1,max=65536"`
	MaxFrameSize    int           `validate:"min=0"`
	Encoding        string
	ShutdownTimeout time.Duration `validate:"gt=0"`

	// NamesFile selects the file-backed name store. Empty keeps names in memory.
	NamesFile string

	// MetricsAddr is where the CLI serves Prometheus metrics. Empty disables it.
	MetricsAddr string

	Tracing pubsub.TracingConfig
}

// Defaults returns the configuration used when no variables are set.
func Defaults() Config {
	return Config{
		FeedHost:        "127.0.0.1",
		FeedPort:        9000,
		PollInterval:    stream.DefaultPollInterval,
		ChunkSize:       stream.DefaultChunkSize,
		ShutdownTimeout: bridge.DefaultShutdownTimeout,
		Tracing:         pubsub.DefaultTracingConfig(),
	}
}

// New loads a .env file if there is one, then reads the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a validated Config from lookup, starting from Defaults.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()
	r := reader{lookup: lookup}

	r.str("FEED_HOST", &cfg.FeedHost)
	r.integer("FEED_PORT", &cfg.FeedPort)
	r.str("FEED_URL", &cfg.FeedURL)
	r.duration("FEED_POLL_INTERVAL", &cfg.PollInterval)
	r.integer("FEED_CHUNK_SIZE", &cfg.ChunkSize)
	r.integer("FEED_MAX_FRAME", &cfg.MaxFrameSize)
	r.str("FEED_ENCODING", &cfg.Encoding)
	r.duration("FEED_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	r.str("NAMES_FILE", &cfg.NamesFile)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)

	r.boolean("PUBSUB_TRACING_ENABLED", &cfg.Tracing.Enabled)
	r.str("PUBSUB_TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	r.str("PUBSUB_TRACING_ZIPKIN_URL", &cfg.Tracing.ZipkinURL)
	r.float("PUBSUB_TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that FeedURL, when set, is a usable endpoint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Endpoint(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Endpoint is the device address. FeedURL takes precedence over host and port.
func (c *Config) Endpoint() (stream.Endpoint, error) {
	if c.FeedURL != "" {
		return stream.ParseEndpoint(c.FeedURL)
	}
	return stream.NewEndpoint(c.FeedHost, c.FeedPort), nil
}

// Bridge returns the bridge settings derived from c.
func (c *Config) Bridge() bridge.Config {
	return bridge.Config{
		Stream: stream.Config{
			PollInterval: c.PollInterval,
			ChunkSize:    c.ChunkSize,
			MaxFrameSize: c.MaxFrameSize,
			Encoding:     c.Encoding,
		},
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *reader) integer(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (r *reader) float(key string, dst *float64) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (r *reader) boolean(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}
