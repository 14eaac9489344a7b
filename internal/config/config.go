package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/engine"
)

// Engine backends.
const (
	BackendGo     = "go"
	BackendNative = "native"
)

// Config represents the complete configuration for qrbridge.
// It includes settings for all commands (image, pixels, pdf, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Engine     EngineConfig     `mapstructure:"engine" yaml:"engine" json:"engine"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher" json:"dispatcher"`
	Pixels     PixelsConfig     `mapstructure:"pixels" yaml:"pixels" json:"pixels"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// EngineConfig selects the detection engine behind the bridge.
type EngineConfig struct {
	// Backend is "go" for the embedded engine or "native" for the cgo binding.
	Backend   string `mapstructure:"backend" yaml:"backend" json:"backend"`
	TryHarder bool   `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
}

// DispatcherConfig sizes the asynchronous worker pool.
type DispatcherConfig struct {
	// Workers <= 0 selects max(1, NumCPU-1).
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// PixelsConfig contains pixel normalization settings.
type PixelsConfig struct {
	// MaxDimension downscales decoded images whose longer side exceeds it. Zero disables.
	MaxDimension int `mapstructure:"max_dimension" yaml:"max_dimension" json:"max_dimension"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Per-client request limits. Zero disables a limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			Backend:   BackendGo,
			TryHarder: engine.DefaultOptions().TryHarder,
		},
		Dispatcher: DispatcherConfig{Workers: 0},
		Pixels:     PixelsConfig{MaxDimension: 2048},
		Output:     OutputConfig{Format: "text"},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "yaml"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	validBackends := []string{BackendGo, BackendNative}
	if !contains(validBackends, c.Engine.Backend) {
		return fmt.Errorf("invalid engine backend: %s (must be one of: %s)", c.Engine.Backend, strings.Join(validBackends, ", "))
	}

	if c.Pixels.MaxDimension < 0 {
		return fmt.Errorf("invalid max dimension: %d (must not be negative)", c.Pixels.MaxDimension)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.RequestsPerHour < 0 {
		return fmt.Errorf("invalid request limits: %d/min %d/h (must not be negative)",
			c.Server.RequestsPerMinute, c.Server.RequestsPerHour)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}

	return nil
}

// SlogLevel maps LogLevel to a slog level. Verbose forces debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ToEngineOptions converts the engine section to embedded engine options.
func (c *Config) ToEngineOptions(logger *slog.Logger) engine.Options {
	opts := engine.DefaultOptions()
	opts.TryHarder = c.Engine.TryHarder
	opts.Logger = logger
	return opts
}

// NewBridge opens the configured backend.
func (c *Config) NewBridge(logger *slog.Logger) (bridge.Bridge, error) {
	switch c.Engine.Backend {
	case BackendGo, "":
		return engine.NewWithOptions(c.ToEngineOptions(logger)), nil
	case BackendNative:
		b, err := bridge.NewNative()
		if err != nil {
			return nil, fmt.Errorf("failed to open native backend: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown engine backend: %s", c.Engine.Backend)
	}
}

// NewDispatcher creates the worker pool described by the dispatcher section.
func (c *Config) NewDispatcher(logger *slog.Logger) *dispatch.Dispatcher {
	return dispatch.New(c.Dispatcher.Workers, dispatch.WithLogger(logger))
}

// ToDetectorOptions converts the config to detector options.
func (c *Config) ToDetectorOptions(logger *slog.Logger, pool *dispatch.Dispatcher) []detector.Option {
	opts := []detector.Option{
		detector.WithLogger(logger),
		detector.WithMaxDimension(c.Pixels.MaxDimension),
	}
	if pool != nil {
		opts = append(opts, detector.WithDispatcher(pool))
	}
	// The native library keeps per-handle decode state.
	if c.Engine.Backend == BackendNative {
		opts = append(opts, detector.WithSerializedCalls())
	}
	return opts
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
