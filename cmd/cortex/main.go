// Package main is the CLI entry point for the Cortex gateway.
//
// Cortex exposes a typed pathway surface and an OpenAI-compatible REST
// surface over heterogeneous generative-model backends.
//
// # Basic Usage
//
// Start the gateway:
//
//	cortex serve --config cortex.yaml
//
// Validate a configuration without starting:
//
//	cortex validate --config cortex.yaml
//
// Write a starter configuration:
//
//	cortex init --output cortex.yaml
//
// # Environment Variables
//
//   - CORTEX_CONFIG: path to the configuration file (default: cortex.yaml)
//   - CORTEX_PORT: HTTP listen port override
//   - CORTEX_ENABLE_REST: enable the OpenAI-compatible surface
//   - CORTEX_ID: node identifier for logs and progress events
//   - STORAGE_CONNECTION_STRING: redis URL for the file store
//   - REDIS_ENCRYPTION_KEY: system-layer file encryption key
//   - WHISPER_MEDIA_API_URL: external file-handler base URL
//   - provider API keys (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...)
//
// A .env file in the working directory is loaded before anything else.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Best effort; a missing .env is the normal case.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
