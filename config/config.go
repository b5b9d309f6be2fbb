// Package config loads and validates the server's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// KeepAlive configures the TCP keep-alive policy for accepted sockets.
type KeepAlive struct {
	IdleSeconds     int `yaml:"idle_seconds"`
	IntervalSeconds int `yaml:"interval_seconds"`
	Count           int `yaml:"count"`
}

// Throttle configures the failed-authentication limiter.
type Throttle struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Redis configures the connection-log sink. An empty Addr selects the
// in-memory recorder instead.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Log configures structured logging.
type Log struct {
	// Level is a zerolog level name: debug, info, warn, or error.
	Level string `yaml:"level"`
	// Dir enables daily-rotated file logging when non-empty.
	Dir string `yaml:"dir"`
}

// Config is the full server configuration.
type Config struct {
	// Listen is the "host:port" the server binds to.
	Listen string `yaml:"listen"`
	// PoolSize is the worker count of the task pool; 0 means NumCPU.
	PoolSize int `yaml:"pool_size"`
	// MaxPayloadBytes caps accepted frame payload lengths; 0 uses the
	// protocol default.
	MaxPayloadBytes uint32 `yaml:"max_payload_bytes"`
	// ReadTimeoutSeconds bounds the blocking payload read of one frame.
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds"`
	// WriteTimeoutSeconds bounds each framed write.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	// MetricsListen exposes Prometheus metrics over HTTP when non-empty.
	MetricsListen string `yaml:"metrics_listen"`

	KeepAlive KeepAlive `yaml:"keep_alive"`
	Throttle  Throttle  `yaml:"throttle"`
	Redis     Redis     `yaml:"redis"`
	Log       Log       `yaml:"log"`
}

// Default returns the configuration used when no file is supplied:
// listen on :8081, NumCPU workers, keep-alive 120s/3s/5, 30s read timeout,
// throttle 5 failures per minute, in-memory persistence, info logging.
//
// Returns:
//   - The default Config
func Default() Config {
	return Config{
		Listen:              ":8081",
		ReadTimeoutSeconds:  30,
		WriteTimeoutSeconds: 10,
		KeepAlive: KeepAlive{
			IdleSeconds:     120,
			IntervalSeconds: 3,
			Count:           5,
		},
		Throttle: Throttle{
			Limit:         5,
			WindowSeconds: 60,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - The merged Config
//   - An error if the file cannot be read, parsed, or validated
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
//
// Returns:
//   - An error describing the first invalid value found
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative")
	}
	if c.KeepAlive.IdleSeconds <= 0 || c.KeepAlive.IntervalSeconds <= 0 || c.KeepAlive.Count <= 0 {
		return fmt.Errorf("keep_alive values must be positive")
	}
	if c.ReadTimeoutSeconds < 0 || c.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// ReadTimeout returns the payload read timeout as a duration.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the framed write timeout as a duration.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// KeepAliveIdle returns the keep-alive idle time as a duration.
func (c Config) KeepAliveIdle() time.Duration {
	return time.Duration(c.KeepAlive.IdleSeconds) * time.Second
}

// KeepAliveInterval returns the keep-alive probe interval as a duration.
func (c Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAlive.IntervalSeconds) * time.Second
}

// ThrottleWindow returns the failed-auth window as a duration.
func (c Config) ThrottleWindow() time.Duration {
	return time.Duration(c.Throttle.WindowSeconds) * time.Second
}
