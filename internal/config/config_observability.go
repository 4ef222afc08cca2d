package config

// LoggingConfig selects the log sink shape.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: json.
	Format string `yaml:"format"`

	// RedactPatterns adds regex patterns to the built-in secret
	// redaction.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ObservabilityConfig groups the optional telemetry exporters.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls OpenTelemetry span export. With no endpoint
// the node still instruments but spans are non-recording.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}
