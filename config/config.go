// Package config loads and validates the daemon configuration from YAML, with
// environment overrides for the values that differ between deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/devicewatch/apiclient"
	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/store"
	"github.com/c360/devicewatch/stream"
)

// Environment variables that override file values.
const (
	EnvAPIURL        = "DEVICEWATCH_API_URL"
	EnvStreamURL     = "DEVICEWATCH_STREAM_URL"
	EnvGatewayListen = "DEVICEWATCH_GATEWAY_LISTEN"
	EnvNATSURL       = "DEVICEWATCH_NATS_URL"
)

// HealthConfig controls the out-of-band upstream probe.
type HealthConfig struct {
	// Interval between probes. Zero means the prober default.
	Interval time.Duration `yaml:"interval"`
}

// GatewayConfig controls the local HTTP surface.
type GatewayConfig struct {
	// Listen is the address the gateway binds, e.g. ":8080".
	Listen string `yaml:"listen"`
}

// NATSConfig controls optional republishing of merged records.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Config is the complete daemon configuration.
type Config struct {
	API     apiclient.Config `yaml:"api"`
	Stream  stream.Config    `yaml:"stream"`
	Store   store.Config     `yaml:"store"`
	Health  HealthConfig     `yaml:"health"`
	Gateway GatewayConfig    `yaml:"gateway"`
	NATS    NATSConfig       `yaml:"nats"`
	Logging LoggingConfig    `yaml:"logging"`
}

// Default returns the configuration used when no file is given. The stream and
// API endpoints have no sane default and must come from the file or the
// environment.
func Default() Config {
	return Config{
		Stream:  stream.DefaultConfig(),
		Gateway: GatewayConfig{Listen: ":8080"},
		NATS:    NATSConfig{Subject: "devicewatch.predictions"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. An empty path skips the file and uses defaults plus
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.WrapInvalid(err, "config", "Load", "read file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.WrapInvalid(err, "config", "Load", "parse yaml")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvStreamURL); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv(EnvGatewayListen); v != "" {
		c.Gateway.Listen = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
}

// Validate checks the assembled configuration. Component configs validate
// themselves; this adds the cross-cutting checks.
func (c Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if c.Gateway.Listen == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig, "config", "Validate", "gateway listen address required")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.WrapInvalid(
				errors.ErrMissingConfig, "config", "Validate", "nats url required when enabled")
		}
		if c.NATS.Subject == "" {
			return errors.WrapInvalid(
				errors.ErrMissingConfig, "config", "Validate", "nats subject required when enabled")
		}
	}
	if c.Health.Interval < 0 {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "config", "Validate", "health interval cannot be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	return nil
}
