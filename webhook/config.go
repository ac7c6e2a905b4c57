package webhook

import (
	"fmt"
	"strings"

	"oss.nandlabs.io/dispatch/errutils"
)

// Config controls a Dispatcher built from a facade-level configuration
// file.
type Config struct {
	// Enabled gates Register; when false, Register fails with ErrDisabled.
	// The other Dispatcher operations do not check it.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Secret is the default HMAC secret applied to registrations that don't
	// supply their own. Empty means no default secret.
	Secret string `json:"secret" yaml:"secret"`
	// Path is the mount prefix the facade serves webhook routes under.
	Path string `json:"path" yaml:"path"`
	// MaxPayloadSize caps the inbound request body size, in bytes. Zero
	// means no explicit cap beyond net/http's own defaults.
	MaxPayloadSize uint `json:"maxPayloadSize" yaml:"maxPayloadSize"`
	// ValidateSignatures, when false, skips signature validation entirely
	// even for registrations that configure a secret. Defaults to true.
	ValidateSignatures bool `json:"validateSignatures" yaml:"validateSignatures"`
}

// DefaultConfig returns an enabled Dispatcher mounted at "/webhooks" with
// signature validation on and no default secret.
func DefaultConfig() *Config {
	return &Config{
		Enabled:            true,
		Path:               "/webhooks",
		ValidateSignatures: true,
	}
}

// Validate checks the Config for internal consistency, aggregating every
// problem found into a single errutils.MultiError instead of stopping at
// the first.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("webhook: config must not be nil")
	}
	merr := errutils.NewMultiErr(nil)
	if c.Enabled && c.Path == "" {
		merr.Add(fmt.Errorf("webhook: path must not be empty"))
	}
	if c.Enabled && c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		merr.Add(fmt.Errorf("webhook: path must start with /, got %q", c.Path))
	}
	if merr.HasErrors() {
		return merr
	}
	return nil
}
