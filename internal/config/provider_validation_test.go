package config

import "testing"

func TestProviderValidationIssues_NilConfig(t *testing.T) {
	// Register a validator that should not be called with nil config.
	RegisterProviderValidator(func(cfg *Config) []string {
		t.Fatal("validator should not be called with nil config")
		return nil
	})
	defer RegisterProviderValidator(nil)

	issues := providerValidationIssues(nil)
	if issues != nil {
		t.Fatalf("expected nil issues for nil config, got %v", issues)
	}
}

func TestProviderValidationIssues_NoValidator(t *testing.T) {
	RegisterProviderValidator(nil)

	issues := providerValidationIssues(&Config{})
	if issues != nil {
		t.Fatalf("expected nil issues when no validator registered, got %v", issues)
	}
}

func TestProviderValidationIssues_ValidatorReturnsIssues(t *testing.T) {
	RegisterProviderValidator(func(cfg *Config) []string {
		return []string{"issue1", "issue2"}
	})
	defer RegisterProviderValidator(nil)

	issues := providerValidationIssues(&Config{})
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	if issues[0] != "issue1" || issues[1] != "issue2" {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestProviderValidationIssues_ValidatorReturnsNil(t *testing.T) {
	RegisterProviderValidator(func(cfg *Config) []string {
		return nil
	})
	defer RegisterProviderValidator(nil)

	issues := providerValidationIssues(&Config{})
	if issues != nil {
		t.Fatalf("expected nil issues, got %v", issues)
	}
}
