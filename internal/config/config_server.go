package config

import "time"

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// EnableREST exposes the OpenAI-compatible surface (/v1/models,
	// /v1/completions, /v1/chat/completions). CORTEX_ENABLE_REST overrides.
	EnableREST bool `yaml:"enable_rest"`

	// NodeID identifies this gateway instance in logs and progress events.
	// CORTEX_ID overrides.
	NodeID string `yaml:"node_id"`

	// Debug exposes pprof endpoints and verbose request logging.
	Debug bool `yaml:"debug"`

	// ShutdownTimeout is how long in-flight requests get to finish on
	// shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit bounds inbound HTTP requests.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds inbound request rates per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}
