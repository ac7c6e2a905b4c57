package cron

import (
	"fmt"
	"time"
)

// Config controls an Engine built from a facade-level configuration file:
// exported tagged fields, a Default constructor, and a Validate method.
type Config struct {
	// TickIntervalMs is the tick loop's polling interval, in milliseconds.
	TickIntervalMs int `json:"tickIntervalMs" yaml:"tickIntervalMs"`
}

// DefaultConfig returns a Config with the engine's standard ~1Hz tick.
func DefaultConfig() *Config {
	return &Config{TickIntervalMs: 1000}
}

// Validate checks the Config for internal consistency.
func (c *Config) Validate() error {
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("cron: tickIntervalMs must be positive, got %d", c.TickIntervalMs)
	}
	return nil
}

func (c *Config) tickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// NewFromConfig builds an Engine honoring the given Config.
func NewFromConfig(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(WithTickInterval(cfg.tickInterval())), nil
}
