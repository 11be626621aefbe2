// Package config loads runtime configuration from an optional YAML file and
// AUTOMATION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/automation/internal/engine"
)

// EnvPrefix prefixes every environment override, e.g. AUTOMATION_DATABASE or
// AUTOMATION_ENGINE_SHUTDOWN_TIMEOUT.
const EnvPrefix = "AUTOMATION"

// Config is the process configuration.
type Config struct {
	// Database is the SQLite file holding schedule state.
	Database string `mapstructure:"database"`

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`

	Engine engine.Config `mapstructure:"engine"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: "automation.db",
		Engine:   engine.DefaultConfig(),
	}
}

// Load reads path if non-empty, then applies environment overrides.
// A missing path is an error; an empty path uses defaults and env only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and back-fills engine timing.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("config: database path is required")
	}
	return c.Engine.Validate()
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("database", def.Database)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("engine.ready_recheck_interval", def.Engine.ReadyRecheckInterval)
	v.SetDefault("engine.delay_max_sleep", def.Engine.DelayMaxSleep)
	v.SetDefault("engine.invalid_window_retry", def.Engine.InvalidWindowRetry)
	v.SetDefault("engine.prepare_retry_backoff", def.Engine.PrepareRetryBackoff)
	v.SetDefault("engine.shutdown_timeout", def.Engine.ShutdownTimeout)
}
