package config

// ProviderValidator allows the provider layer to inject config validation
// (family-specific endpoint requirements) without this package importing
// it. It should return a slice of issue strings suitable for
// ConfigValidationError.
type ProviderValidator func(*Config) []string

var providerValidator ProviderValidator

// RegisterProviderValidator registers a provider-aware validator.
// Only one validator may be registered; later calls overwrite earlier ones.
func RegisterProviderValidator(fn ProviderValidator) {
	providerValidator = fn
}

func providerValidationIssues(cfg *Config) []string {
	if providerValidator == nil || cfg == nil {
		return nil
	}
	return providerValidator(cfg)
}
