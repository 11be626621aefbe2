package engine

import "time"

// Config tunes engine timing. Zero values are replaced by defaults in
// Validate.
type Config struct {
	// ReadyRecheckInterval bounds how long a NOT_READY schedule waits for a
	// conditions-changed notification before checking again.
	ReadyRecheckInterval time.Duration `mapstructure:"ready_recheck_interval"`

	// DelayMaxSleep bounds a single delay sleep.
	DelayMaxSleep time.Duration `mapstructure:"delay_max_sleep"`

	// InvalidWindowRetry is the wait applied when an execution window
	// cannot be evaluated.
	InvalidWindowRetry time.Duration `mapstructure:"invalid_window_retry"`

	// PrepareRetryBackoff is the wait before preparing again after the
	// preparer returned an error.
	PrepareRetryBackoff time.Duration `mapstructure:"prepare_retry_backoff"`

	// ShutdownTimeout bounds how long Stop waits for in-flight work.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ReadyRecheckInterval: 30 * time.Second,
		DelayMaxSleep:        5 * time.Minute,
		InvalidWindowRetry:   24 * time.Hour,
		PrepareRetryBackoff:  30 * time.Second,
		ShutdownTimeout:      10 * time.Second,
	}
}

// Validate back-fills zero or negative values with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.ReadyRecheckInterval <= 0 {
		c.ReadyRecheckInterval = def.ReadyRecheckInterval
	}
	if c.DelayMaxSleep <= 0 {
		c.DelayMaxSleep = def.DelayMaxSleep
	}
	if c.InvalidWindowRetry <= 0 {
		c.InvalidWindowRetry = def.InvalidWindowRetry
	}
	if c.PrepareRetryBackoff <= 0 {
		c.PrepareRetryBackoff = def.PrepareRetryBackoff
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return nil
}
