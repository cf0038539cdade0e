package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"dapaggregator/internal/config"
	"dapaggregator/pkg/logging"
)

// Application bootstraps and runs one dapaggregator process.
//
// Bootstrap follows a two-phase pattern: NewApplication loads
// configuration and wires every core component together; Run starts the
// HTTP server and, for a Leader-playing process, the background
// collection finisher, blocking until the process is signaled to stop.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads cfg.ConfigPath (internal/config) and wires the full
// set of core components against it.
func NewApplication(cfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	var out io.Writer = os.Stdout
	if cfg.Silent {
		out = io.Discard
	}
	logging.Init(level, out)

	loaded, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration from %s: %w", cfg.ConfigPath, err)
	}
	cfg.Loaded = &loaded
	logging.Info("Bootstrap", "loaded configuration from %s", cfg.ConfigPath)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "failed to initialize services")
		return nil, fmt.Errorf("initializing services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Services exposes the wired components, used by cmd/task.go and
// cmd/collect.go to talk to a local in-process aggregator without going
// over HTTP (e.g. for one-shot CLI operations against a local task store).
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the HTTP server and blocks until the process receives
// SIGINT/SIGTERM, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}
