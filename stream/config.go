package stream

import (
	"fmt"
	"net/url"
	"time"

	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/pkg/retry"
)

// Reconnect policy defaults, mirroring the upstream reference behavior.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 1000 * time.Millisecond
	DefaultMaxDelay     = 16000 * time.Millisecond
)

// Config holds configuration for the stream client
type Config struct {
	// URL is the SSE endpoint delivering prediction records.
	URL string `yaml:"url"`
	// MaxAttempts bounds automatic reconnection before the Failed state.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay is the base backoff delay.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns the reference reconnect policy
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
	}
}

// Validate ensures the stream configuration is usable. Malformed endpoint
// URLs fail here, synchronously, before any transport is created.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig, "stream", "Validate", "url required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "stream", "Validate", "parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "stream", "Validate",
			fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if c.MaxAttempts < 0 {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "stream", "Validate", "max_attempts cannot be negative")
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "stream", "Validate", "delays cannot be negative")
	}
	if c.MaxDelay > 0 && c.InitialDelay > c.MaxDelay {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "stream", "Validate", "initial_delay exceeds max_delay")
	}
	return nil
}

// withDefaults fills unset fields with the reference policy
func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// backoff exposes the reconnect schedule as a retry config so the delay
// computation lives in one place.
func (c Config) backoff() retry.Config {
	return retry.Config{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   2.0,
	}
}
