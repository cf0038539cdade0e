package app

import (
	"dapaggregator/internal/config"
)

// Config holds the bootstrap-time settings a running aggregator process
// needs before it can load its on-disk configuration: where the flags on
// cmd/serve.go point it.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool

	// ConfigPath is the YAML file loaded for GlobalConfig/TaskprovConfig
	// and the server role/listen-address settings (internal/config).
	ConfigPath string

	// Silent suppresses all logging output, used by cmd/task.go and
	// cmd/collect.go so CLI output isn't interleaved with log lines.
	Silent bool

	// Loaded is populated by NewApplication once ConfigPath has been read.
	Loaded *config.FileConfig
}

// NewConfig builds a bootstrap Config.
func NewConfig(debug bool, configPath string) *Config {
	return &Config{Debug: debug, ConfigPath: configPath}
}
