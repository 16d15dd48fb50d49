package testutils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/nfrund/namefeed/internal/config"
	"github.com/nfrund/namefeed/internal/logging"
	"github.com/nfrund/namefeed/internal/loop"
)

// ConfigForTests applies the project's .env.test file, if present, through
// t.Setenv and returns the resulting configuration.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	// Find the project root by looking for go.mod.
	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			break
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}

	env, err := godotenv.Read(filepath.Join(path, ".env.test"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed to load .env.test file: %v", err)
	}
	for key, value := range env {
		t.Setenv(key, value)
	}

	logging.New()

	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	return cfg
}

// DrainUntil processes l on the calling goroutine until cond holds, failing
// the test after timeout.
func DrainUntil(t *testing.T, l *loop.Loop, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = l.Wait(ctx)
		cancel()
		l.ProcessEvents()
	}
}
