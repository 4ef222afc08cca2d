package config

import (
	"fmt"
	"time"

	"github.com/cortexgw/cortex/pkg/models"
)

// Config is the root configuration for a Cortex gateway instance.
type Config struct {
	// Version is the config schema version (see CurrentVersion).
	Version int `yaml:"version"`

	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	FileHandler FileHandlerConfig `yaml:"file_handler"`

	// Models declares the model table: name, provider family, endpoints,
	// token limits.
	Models []models.Model `yaml:"models"`

	// Pathways declares where pathway definitions come from.
	Pathways PathwaysConfig `yaml:"pathways"`

	Executor      ExecutorConfig      `yaml:"executor"`
	Agent         AgentConfig         `yaml:"agent"`
	Media         MediaConfig         `yaml:"media"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads and validates the configuration file. The pipeline is:
// read with $include merge and env expansion (LoadRaw), strict decode
// (unknown keys are errors), environment variable overlay, defaults,
// then validation.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 20
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 40
	}
	if cfg.Storage.Backend == "" {
		if cfg.Storage.ConnectionString != "" {
			cfg.Storage.Backend = StorageBackendRedis
		} else {
			cfg.Storage.Backend = StorageBackendMemory
		}
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "cortex.db"
	}
	if cfg.Storage.CacheTTL == 0 {
		cfg.Storage.CacheTTL = 5 * time.Minute
	}
	if cfg.FileHandler.Embedded.Backend == "" {
		cfg.FileHandler.Embedded.Backend = BlobBackendLocal
	}
	if cfg.FileHandler.Embedded.LocalPath == "" {
		cfg.FileHandler.Embedded.LocalPath = "files"
	}
	if cfg.Executor.Workers == 0 {
		cfg.Executor.Workers = 4
	}
	if cfg.Executor.QueueSize == 0 {
		cfg.Executor.QueueSize = 128
	}
	if cfg.Executor.DefaultTimeout == 0 {
		cfg.Executor.DefaultTimeout = 60 * time.Second
	}
	if cfg.Executor.DefaultRetries == 0 {
		cfg.Executor.DefaultRetries = 3
	}
	if cfg.Executor.Cache.TTL == 0 {
		cfg.Executor.Cache.TTL = 60 * time.Second
	}
	if cfg.Executor.Cache.SweepSchedule == "" {
		cfg.Executor.Cache.SweepSchedule = "@every 30s"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 16
	}
	if cfg.Media.MaxImageDimension == 0 {
		cfg.Media.MaxImageDimension = 2048
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "cortex"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}
