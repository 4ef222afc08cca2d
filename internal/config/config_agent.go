package config

// AgentConfig tunes the tool loop.
type AgentConfig struct {
	// MaxIterations caps model round trips per tool-using request.
	MaxIterations int `yaml:"max_iterations"`

	// Compression controls chat-history summarization.
	Compression CompressionConfig `yaml:"compression"`
}

// CompressionConfig controls history compression ahead of context
// exhaustion.
type CompressionConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`

	// TriggerRatio is the share of the model's token budget at which
	// compression runs. Default: 0.6.
	TriggerRatio *float64 `yaml:"trigger_ratio"`

	// TargetReduction is the desired token reduction. Default: 0.7.
	TargetReduction *float64 `yaml:"target_reduction"`

	// KeepRecentTurns is how many trailing user and assistant turns stay
	// verbatim. Default: 2.
	KeepRecentTurns *int `yaml:"keep_recent_turns"`

	// Model overrides the summarization model. Defaults to the pathway's
	// own model.
	Model string `yaml:"model"`
}

// IsEnabled reports the effective enabled state (default true).
func (c CompressionConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
