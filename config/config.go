// Package config holds the engine configuration: pump cadence, cache
// capacities, and instant-cursor defaults. Loadable from YAML, with
// every field optional on disk and defaulted on load.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/streamview/errors"
)

// Defaults applied by Default and to zero fields on Load.
const (
	DefaultPumpInterval         = 100 * time.Millisecond
	DefaultSummaryCacheCapacity = 16384
	DefaultEpsilon              = 500 * time.Millisecond
	DefaultInstantIndexPadding  = 1.0
	DefaultScanWorkers          = 4
)

// Config is the engine configuration.
type Config struct {
	// PumpInterval is the cadence of the batch-and-dispatch cycle.
	PumpInterval time.Duration `yaml:"pump_interval"`

	// SummaryCacheCapacity bounds resident buckets per summary interval.
	SummaryCacheCapacity int `yaml:"summary_cache_capacity"`

	// DefaultEpsilon is the cursor window for instant targets registered
	// without their own.
	DefaultEpsilon time.Duration `yaml:"default_epsilon"`

	// InstantIndexPadding widens the instant index window by this factor
	// of the viewport width on each side.
	InstantIndexPadding float64 `yaml:"instant_index_padding"`

	// ScanWorkers bounds concurrent sequential store scans per pump.
	ScanWorkers int `yaml:"scan_workers"`
}

// Default returns the configuration with every field at its default.
func Default() Config {
	return Config{
		PumpInterval:         DefaultPumpInterval,
		SummaryCacheCapacity: DefaultSummaryCacheCapacity,
		DefaultEpsilon:       DefaultEpsilon,
		InstantIndexPadding:  DefaultInstantIndexPadding,
		ScanWorkers:          DefaultScanWorkers,
	}
}

// Load reads a YAML configuration file, fills zero fields with defaults,
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config", "Load", "file read")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "yaml decode")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PumpInterval == 0 {
		c.PumpInterval = DefaultPumpInterval
	}
	if c.SummaryCacheCapacity == 0 {
		c.SummaryCacheCapacity = DefaultSummaryCacheCapacity
	}
	if c.DefaultEpsilon == 0 {
		c.DefaultEpsilon = DefaultEpsilon
	}
	if c.InstantIndexPadding == 0 {
		c.InstantIndexPadding = DefaultInstantIndexPadding
	}
	if c.ScanWorkers == 0 {
		c.ScanWorkers = DefaultScanWorkers
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.PumpInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "pump_interval must be positive")
	}
	if c.SummaryCacheCapacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "summary_cache_capacity must be positive")
	}
	if c.DefaultEpsilon <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "default_epsilon must be positive")
	}
	if c.InstantIndexPadding < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "instant_index_padding cannot be negative")
	}
	if c.ScanWorkers <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "scan_workers must be positive")
	}
	return nil
}
