package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cortexgw/cortex/internal/pathway"
	"github.com/cortexgw/cortex/pkg/models"
)

// ConfigValidationError aggregates every configuration issue found into
// one error so operators fix a file in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid configuration"
	}
	var b strings.Builder
	b.WriteString("invalid configuration:")
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue)
	}
	return b.String()
}

// Validate checks cross-field constraints. It reports all issues at once
// rather than stopping at the first.
func (c *Config) Validate() error {
	var issues []string

	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range (1-65535)", c.Server.Port))
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		issues = append(issues, "server.rate_limit.requests_per_second cannot be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	issues = append(issues, validateStorage(c.Storage)...)
	issues = append(issues, validateFileHandler(c.FileHandler)...)
	issues = append(issues, validateExecutor(c.Executor)...)
	issues = append(issues, validateAgent(c.Agent)...)
	issues = append(issues, validateModels(c.Models)...)
	issues = append(issues, validatePathways(c.Pathways, c.Models)...)
	issues = append(issues, providerValidationIssues(c)...)

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validateStorage(sc StorageConfig) []string {
	var issues []string
	switch sc.Backend {
	case StorageBackendRedis:
		if strings.TrimSpace(sc.ConnectionString) == "" {
			issues = append(issues, "storage.backend redis requires storage.connection_string (or STORAGE_CONNECTION_STRING)")
		}
	case StorageBackendSQLite, StorageBackendMemory:
	default:
		issues = append(issues, fmt.Sprintf("storage.backend %q is not one of redis, sqlite, memory", sc.Backend))
	}
	if sc.CacheTTL < 0 {
		issues = append(issues, "storage.cache_ttl cannot be negative")
	}
	return issues
}

func validateFileHandler(fc FileHandlerConfig) []string {
	var issues []string
	if fc.URL != "" && fc.Embedded.Enabled {
		issues = append(issues, "file_handler.url and file_handler.embedded.enabled are mutually exclusive; pick the external service or the embedded handler")
	}
	if !fc.Embedded.Enabled {
		return issues
	}
	switch fc.Embedded.Backend {
	case BlobBackendLocal:
	case BlobBackendS3:
		if strings.TrimSpace(fc.Embedded.S3Bucket) == "" {
			issues = append(issues, "file_handler.embedded.s3_bucket is required for the s3 backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("file_handler.embedded.backend %q is not one of local, s3", fc.Embedded.Backend))
	}
	return issues
}

func validateExecutor(ec ExecutorConfig) []string {
	var issues []string
	if ec.Workers < 1 {
		issues = append(issues, fmt.Sprintf("executor.workers %d must be at least 1", ec.Workers))
	}
	if ec.QueueSize < 1 {
		issues = append(issues, fmt.Sprintf("executor.queue_size %d must be at least 1", ec.QueueSize))
	}
	if ec.DefaultTimeout <= 0 {
		issues = append(issues, "executor.default_timeout must be positive")
	}
	if ec.DefaultRetries < 1 {
		issues = append(issues, fmt.Sprintf("executor.default_retries %d must be at least 1", ec.DefaultRetries))
	}
	if ec.Cache.IsEnabled() && ec.Cache.TTL <= 0 {
		issues = append(issues, "executor.cache.ttl must be positive when the cache is enabled")
	}
	return issues
}

func validateAgent(ac AgentConfig) []string {
	var issues []string
	if ac.MaxIterations < 1 {
		issues = append(issues, fmt.Sprintf("agent.max_iterations %d must be at least 1", ac.MaxIterations))
	}
	if r := ac.Compression.TriggerRatio; r != nil && (*r <= 0 || *r > 1) {
		issues = append(issues, fmt.Sprintf("agent.compression.trigger_ratio %v must be within (0, 1]", *r))
	}
	if r := ac.Compression.TargetReduction; r != nil && (*r <= 0 || *r >= 1) {
		issues = append(issues, fmt.Sprintf("agent.compression.target_reduction %v must be within (0, 1)", *r))
	}
	if n := ac.Compression.KeepRecentTurns; n != nil && *n < 0 {
		issues = append(issues, "agent.compression.keep_recent_turns cannot be negative")
	}
	return issues
}

func validateModels(list []models.Model) []string {
	var issues []string
	seen := map[string]string{}
	for i, m := range list {
		label := fmt.Sprintf("models[%d]", i)
		name := strings.TrimSpace(m.Name)
		if name != "" {
			label = fmt.Sprintf("models[%d] (%s)", i, name)
		}
		if name == "" {
			issues = append(issues, label+": name is required")
		} else if prev, ok := seen[strings.ToLower(name)]; ok {
			issues = append(issues, fmt.Sprintf("%s: name collides with model %q", label, prev))
		} else {
			seen[strings.ToLower(name)] = name
		}
		if !m.Family.Valid() {
			issues = append(issues, fmt.Sprintf("%s: family %q is not a supported provider family", label, m.Family))
		}
		if len(m.Endpoints) == 0 {
			issues = append(issues, label+": at least one endpoint is required")
		}
		for j, ep := range m.Endpoints {
			if ep.RequestsPerSecond < 0 {
				issues = append(issues, fmt.Sprintf("%s: endpoints[%d].requestsPerSecond cannot be negative", label, j))
			}
		}
		if m.MaxTokenLength <= 0 {
			issues = append(issues, label+": maxTokenLength must be positive")
		}
		if m.MaxReturnTokens < 0 {
			issues = append(issues, label+": maxReturnTokens cannot be negative")
		}
		if m.MaxTokenLength > 0 && m.MaxReturnTokens >= m.MaxTokenLength {
			issues = append(issues, label+": maxReturnTokens must be smaller than maxTokenLength")
		}
	}
	return issues
}

func validatePathways(pc PathwaysConfig, modelList []models.Model) []string {
	var issues []string
	if pc.Directory != "" {
		if info, err := os.Stat(pc.Directory); err != nil || !info.IsDir() {
			issues = append(issues, fmt.Sprintf("pathways.directory %q is not a readable directory", pc.Directory))
		}
	}
	if pc.Watch && pc.Directory == "" {
		issues = append(issues, "pathways.watch requires pathways.directory")
	}

	known := make(map[string]bool, len(modelList))
	for _, m := range modelList {
		known[m.Name] = true
	}

	seen := map[string]bool{}
	for i, spec := range pc.Inline {
		label := fmt.Sprintf("pathways.inline[%d]", i)
		if strings.TrimSpace(spec.Name) != "" {
			label = fmt.Sprintf("pathways.inline[%d] (%s)", i, spec.Name)
		}
		if _, err := pathway.Compile(spec); err != nil {
			issues = append(issues, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if seen[spec.Name] {
			issues = append(issues, label+": duplicate pathway name")
		}
		seen[spec.Name] = true
		if !known[spec.Model] {
			issues = append(issues, fmt.Sprintf("%s: model %q is not declared under models", label, spec.Model))
		}
	}
	return issues
}
