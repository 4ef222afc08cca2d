package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "cortex.yaml"

// resolveConfigPath applies the flag > CORTEX_CONFIG > default precedence.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" && flagValue != defaultConfigPath {
		return flagValue
	}
	if env := os.Getenv("CORTEX_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex - multi-tenant gateway over generative-model backends",
		Long: `Cortex compiles pathways (prompt templates bound to models, tools, and
execution policy) into request handlers, and exposes them over a typed
query surface and an OpenAI-compatible REST surface.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
		buildInitCmd(),
		buildModelsCmd(),
		buildSchemaCmd(),
		buildVersionCmd(),
	)
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Cortex gateway",
		Long: `Start the gateway: load configuration, open stores, register
pathways, and serve the HTTP surfaces until SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  cortex serve

  # Start with a custom config and debug logging
  cortex serve --config /etc/cortex/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging and pprof endpoints")
	return cmd
}

func buildValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildInitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a commented starter configuration. When run on a terminal,
prompts for the file encryption key without echoing it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(output, force)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", defaultConfigPath, "Where to write the configuration")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var (
		region    string
		providers []string
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List Bedrock foundation models available in a region",
		Long: `Query the AWS Bedrock control plane for the foundation models a
region offers. Credentials come from the default AWS chain (env,
shared config, IAM role).`,
		Example: `  # All active models in us-east-1
  cortex models

  # Anthropic and Meta models in eu-west-1
  cortex models --region eu-west-1 --provider anthropic --provider meta`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd.Context(), region, providers)
		},
	}
	cmd.Flags().StringVarP(&region, "region", "r", "", "AWS region to query (default us-east-1)")
	cmd.Flags().StringSliceVarP(&providers, "provider", "p", nil, "Filter by provider name (repeatable)")
	return cmd
}

func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		Long:  `Print the JSON Schema for the configuration file, for editor validation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema()
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cortex %s\n  commit: %s\n  built:  %s\n", version, commit, date)
		},
	}
}
