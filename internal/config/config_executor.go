package config

import "time"

// ExecutorConfig tunes the request execution pipeline.
type ExecutorConfig struct {
	// Workers is the size of the execution worker pool.
	Workers int `yaml:"workers"`

	// QueueSize bounds pending admissions before callers block.
	QueueSize int `yaml:"queue_size"`

	// DefaultTimeout bounds one request when the pathway declares no
	// timeout of its own.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// DefaultRetries caps provider attempts when the pathway declares
	// none.
	DefaultRetries int `yaml:"default_retries"`

	// Cache controls duplicate-request coalescing.
	Cache ExecutorCacheConfig `yaml:"cache"`
}

// ExecutorCacheConfig controls the idempotence cache.
type ExecutorCacheConfig struct {
	// Enabled defaults to true. Pathways opt out individually with
	// enableDuplicateRequests.
	Enabled *bool `yaml:"enabled"`

	// TTL is how long finished results answer duplicate requests.
	TTL time.Duration `yaml:"ttl"`

	// SweepSchedule is the cron spec for expired-entry sweeps.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// IsEnabled reports the effective enabled state (default true).
func (c ExecutorCacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
