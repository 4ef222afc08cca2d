package models

// ProviderFamily names the provider dialect a model speaks. The family
// selects the plugin used to build requests and translate its stream.
type ProviderFamily string

const (
	FamilyOpenAIChat       ProviderFamily = "openai-chat"
	FamilyOpenAICompletion ProviderFamily = "openai-completion"
	FamilyOpenAIVision     ProviderFamily = "openai-vision"
	FamilyOpenAIReasoning  ProviderFamily = "openai-reasoning"
	FamilyAnthropic        ProviderFamily = "anthropic"
	FamilyBedrock          ProviderFamily = "anthropic-bedrock"
	FamilyGeminiChat       ProviderFamily = "gemini-chat"
	FamilyGeminiVision     ProviderFamily = "gemini-vision"
	FamilyGrok             ProviderFamily = "grok"
	FamilyOpenAICompatible ProviderFamily = "openai-compatible"
	FamilyLocal            ProviderFamily = "local"
)

// Valid reports whether the family is one of the declared dialects.
func (f ProviderFamily) Valid() bool {
	switch f {
	case FamilyOpenAIChat, FamilyOpenAICompletion, FamilyOpenAIVision,
		FamilyOpenAIReasoning, FamilyAnthropic, FamilyBedrock,
		FamilyGeminiChat, FamilyGeminiVision, FamilyGrok,
		FamilyOpenAICompatible, FamilyLocal:
		return true
	}
	return false
}

// Endpoint describes one reachable instance of a model's backing service.
// Each endpoint owns a token-bucket limiter sized by RequestsPerSecond and
// a monitor tracking counts and in-flight requests.
type Endpoint struct {
	Name              string            `json:"name" yaml:"name"`
	URL               string            `json:"url" yaml:"url"`
	APIKey            string            `json:"apiKey,omitempty" yaml:"apiKey"`
	Headers           map[string]string `json:"headers,omitempty" yaml:"headers"`
	Params            map[string]any    `json:"params,omitempty" yaml:"params"`
	RequestsPerSecond float64           `json:"requestsPerSecond,omitempty" yaml:"requestsPerSecond"`
}

// Model binds a model name to a provider family and its endpoints.
type Model struct {
	Name              string         `json:"name" yaml:"name"`
	Family            ProviderFamily `json:"family" yaml:"family"`
	Endpoints         []Endpoint     `json:"endpoints" yaml:"endpoints"`
	MaxTokenLength    int            `json:"maxTokenLength" yaml:"maxTokenLength"`
	MaxReturnTokens   int            `json:"maxReturnTokens" yaml:"maxReturnTokens"`
	SupportsStreaming bool           `json:"supportsStreaming" yaml:"supportsStreaming"`
}

// ContextBudget returns the input-token budget left after reserving the
// prompt overhead and the return allowance.
func (m Model) ContextBudget(promptOverhead int) int {
	budget := m.MaxTokenLength - promptOverhead - m.MaxReturnTokens
	if budget < 0 {
		return 0
	}
	return budget
}
