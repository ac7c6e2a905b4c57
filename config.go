package dispatch

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"oss.nandlabs.io/dispatch/cron"
	"oss.nandlabs.io/dispatch/errutils"
	"oss.nandlabs.io/dispatch/registry"
	"oss.nandlabs.io/dispatch/vfs"
	"oss.nandlabs.io/dispatch/webhook"
)

// Config is the facade's nested configuration tree: one branch per
// subcomponent.
type Config struct {
	API     registry.Config `json:"api" yaml:"api"`
	Cron    CronConfig      `json:"cron" yaml:"cron"`
	Webhook webhook.Config  `json:"webhook" yaml:"webhook"`
}

// CronConfig wraps cron.Config with the facade-level defaults (default
// expression and timezone) that the Cron Engine itself doesn't need to
// know about — those are consumed by the facade when seeding the engine
// with its configured default schedule, not by the engine's own API.
type CronConfig struct {
	cron.Config `yaml:",inline" json:",inline"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	CatchUp     bool   `json:"catchUp" yaml:"catchUp"`
	Expression  string `json:"cronExpression" yaml:"cronExpression"`
	Timezone    string `json:"timezone" yaml:"timezone"`
}

// DefaultConfig returns a Config with every subcomponent enabled and
// sensible, permissive defaults (no caps, no secrets).
func DefaultConfig() *Config {
	cronCfg := CronConfig{Config: *cron.DefaultConfig(), Enabled: true, Timezone: "UTC"}
	return &Config{
		API:     *registry.DefaultConfig(),
		Cron:    cronCfg,
		Webhook: *webhook.DefaultConfig(),
	}
}

// Validate checks every subcomponent's Config, aggregating every failure
// found (rather than stopping at the first) into a single errutils.MultiError
// so a malformed config file reports all of its problems at once.
func (c *Config) Validate() error {
	merr := errutils.NewMultiErr(nil)
	if err := c.API.Validate(); err != nil {
		merr.Add(fmt.Errorf("dispatch: api config: %w", err))
	}
	if err := c.Cron.Config.Validate(); err != nil {
		merr.Add(fmt.Errorf("dispatch: cron config: %w", err))
	}
	if err := c.Webhook.Validate(); err != nil {
		merr.Add(fmt.Errorf("dispatch: webhook config: %w", err))
	}
	if merr.HasErrors() {
		return merr
	}
	return nil
}

// LoadConfig reads a YAML configuration file through the virtual
// filesystem and validates the result.
func LoadConfig(path string) (*Config, error) {
	file, err := vfs.GetManager().OpenRaw(path)
	if err != nil {
		return nil, fmt.Errorf("dispatch: opening config %s: %w", path, err)
	}
	raw, err := file.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("dispatch: reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("dispatch: parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
