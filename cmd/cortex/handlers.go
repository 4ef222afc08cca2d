package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/cortexgw/cortex/internal/config"
	"github.com/cortexgw/cortex/internal/providers/bedrock"
	"github.com/cortexgw/cortex/internal/runtime"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	rt, err := runtime.New(ctx, cfg, runtime.BuildInfo{Version: version, Commit: commit})
	if err != nil {
		return fmt.Errorf("assemble runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Serve() }()

	select {
	case err := <-errCh:
		shutdownCtx, sc := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer sc()
		_ = rt.Shutdown(shutdownCtx)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, sc := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer sc()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runValidate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s: OK\n", configPath)
	fmt.Printf("  models:    %d\n", len(cfg.Models))
	fmt.Printf("  pathways:  %d inline", len(cfg.Pathways.Inline))
	if cfg.Pathways.Directory != "" {
		fmt.Printf(" + directory %s", cfg.Pathways.Directory)
	}
	fmt.Println()
	fmt.Printf("  storage:   %s\n", cfg.Storage.Backend)
	fmt.Printf("  rest:      %v\n", cfg.Server.EnableREST)
	return nil
}

func runSchema() error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("reflect config schema: %w", err)
	}
	fmt.Println(string(schema))
	return nil
}

func runModels(ctx context.Context, region string, providerFilter []string) error {
	catalog := bedrock.NewCatalog(bedrock.Options{
		Region:    region,
		Providers: providerFilter,
	})
	listing, err := catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(listing) == 0 {
		fmt.Println("no matching models")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL ID\tPROVIDER\tCONTEXT\tMAX OUT\tSTREAMING\tMODALITIES")
	for _, m := range listing {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%v\t%s -> %s\n",
			m.ID, m.Provider, m.Context, m.MaxTokens, m.Streaming,
			strings.Join(m.Input, ","), strings.Join(m.Output, ","))
	}
	return tw.Flush()
}

const starterConfig = `version: 1

server:
  host: 0.0.0.0
  port: 8080
  enable_rest: true

storage:
  # redis, sqlite, or memory. STORAGE_CONNECTION_STRING selects redis.
  backend: memory
  encryption_key: "%s"

file_handler:
  embedded:
    enabled: true
    backend: local
    local_path: files

models:
  - name: gpt-4o
    family: openai-chat
    maxTokenLength: 128000
    maxReturnTokens: 4096
    supportsStreaming: true
    endpoints:
      - name: openai
        url: https://api.openai.com/v1
        apiKey: ${OPENAI_API_KEY}
        requestsPerSecond: 10

pathways:
  directory: pathways
  watch: true
  inline:
    - name: summarize
      model: gpt-4o
      template: |
        Summarize the following text.

        {{text}}
`

func runInit(output string, force bool) error {
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}

	key, err := promptSecret("File encryption key (empty stores plaintext): ")
	if err != nil {
		return err
	}

	content := fmt.Sprintf(starterConfig, key)
	if err := os.WriteFile(output, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	if err := os.MkdirAll("pathways", 0o755); err != nil {
		return fmt.Errorf("create pathways directory: %w", err)
	}
	fmt.Printf("Wrote %s\n", output)
	fmt.Println("Next: set OPENAI_API_KEY and run `cortex serve`.")
	return nil
}

// promptSecret reads a line without echo when stdin is a terminal, and
// falls back to the environment otherwise so init stays scriptable.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return os.Getenv("REDIS_ENCRYPTION_KEY"), nil
	}
	fmt.Print(prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(secret), nil
}
