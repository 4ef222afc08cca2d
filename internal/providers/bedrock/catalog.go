// Package bedrock queries the AWS Bedrock control plane for the
// foundation models a region offers. The runtime plugin talks to
// bedrockruntime; this package covers the ListFoundationModels surface
// the CLI uses to inspect a region before models are wired into config.
package bedrock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"

	"github.com/cortexgw/cortex/internal/fault"
)

const (
	defaultRegion        = "us-east-1"
	defaultTTL           = time.Hour
	defaultContextWindow = 4096
	defaultMaxTokens     = 4096
)

// Model is one entry from the regional foundation-model listing,
// flattened to the fields the CLI reports.
type Model struct {
	ID        string
	Name      string
	Provider  string
	Input     []string
	Output    []string
	Context   int
	MaxTokens int
	Streaming bool
	Status    string
}

// Options configures a Catalog. The zero value queries us-east-1 with
// the default AWS credential chain and caches results for an hour.
type Options struct {
	Region string

	// Providers filters the listing by provider name or model ID
	// prefix. Empty means every provider.
	Providers []string

	// TTL bounds how long a listing is served from cache.
	TTL time.Duration

	// Static credentials. When unset the default chain applies
	// (env, shared config, IAM role).
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// listAPI is the slice of the control-plane client the catalog needs.
type listAPI interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// Catalog lists foundation models with a TTL cache. Concurrent callers
// serialize on the fetch; latecomers read the cache.
type Catalog struct {
	opts      Options
	newClient func(aws.Config) listAPI

	mu      sync.Mutex
	client  listAPI
	cached  []Model
	expires time.Time
}

// NewCatalog returns a catalog for the region in opts.
func NewCatalog(opts Options) *Catalog {
	if opts.Region == "" {
		opts.Region = defaultRegion
	}
	if opts.TTL == 0 {
		opts.TTL = defaultTTL
	}
	return &Catalog{
		opts: opts,
		newClient: func(cfg aws.Config) listAPI {
			return bedrock.NewFromConfig(cfg)
		},
	}
}

// List returns the active foundation models in the catalog's region,
// fetching from AWS when the cache has expired.
func (c *Catalog) List(ctx context.Context) ([]Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.expires) && len(c.cached) > 0 {
		return c.cached, nil
	}

	if c.client == nil {
		client, err := c.buildClient(ctx)
		if err != nil {
			return nil, err
		}
		c.client = client
	}

	out, err := c.client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fault.Wrap(fault.KindRetryable, "bedrock: list foundation models", err)
	}

	listing := make([]Model, 0, len(out.ModelSummaries))
	for i := range out.ModelSummaries {
		summary := &out.ModelSummaries[i]
		if !c.include(summary) {
			continue
		}
		listing = append(listing, flatten(summary))
	}

	c.cached = listing
	c.expires = time.Now().Add(c.opts.TTL)
	return listing, nil
}

// Reset drops the cache so the next List hits AWS again.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.expires = time.Time{}
}

func (c *Catalog) buildClient(ctx context.Context) (listAPI, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(c.opts.Region)}
	if c.opts.AccessKeyID != "" && c.opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.opts.AccessKeyID, c.opts.SecretAccessKey, c.opts.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fault.Wrap(fault.KindNonRetryable, "bedrock: load aws config", err)
	}
	return c.newClient(awsCfg), nil
}

// include keeps active models that match the provider filter. Legacy
// and deprecated lifecycle states are dropped.
func (c *Catalog) include(summary *types.FoundationModelSummary) bool {
	if summary.ModelLifecycle != nil {
		status := string(summary.ModelLifecycle.Status)
		if status != "" && status != string(types.FoundationModelLifecycleStatusActive) {
			return false
		}
	}
	if len(c.opts.Providers) == 0 {
		return true
	}
	provider := strings.ToLower(aws.ToString(summary.ProviderName))
	id := strings.ToLower(aws.ToString(summary.ModelId))
	for _, want := range c.opts.Providers {
		want = strings.ToLower(want)
		if provider == want || strings.HasPrefix(id, want+".") {
			return true
		}
	}
	return false
}

func flatten(summary *types.FoundationModelSummary) Model {
	m := Model{
		ID:        aws.ToString(summary.ModelId),
		Name:      aws.ToString(summary.ModelName),
		Provider:  aws.ToString(summary.ProviderName),
		Streaming: aws.ToBool(summary.ResponseStreamingSupported),
	}
	for _, mod := range summary.InputModalities {
		m.Input = append(m.Input, strings.ToLower(string(mod)))
	}
	for _, mod := range summary.OutputModalities {
		m.Output = append(m.Output, strings.ToLower(string(mod)))
	}
	if summary.ModelLifecycle != nil {
		m.Status = string(summary.ModelLifecycle.Status)
	}
	id := strings.ToLower(m.ID)
	m.Context = contextWindowFor(id)
	m.MaxTokens = maxTokensFor(id)
	return m
}

// contextWindowFor maps known model families to their context size.
// The listing API does not expose these numbers.
func contextWindowFor(id string) int {
	switch {
	case strings.Contains(id, "claude-instant"):
		return 100000
	case strings.Contains(id, "claude"):
		return 200000
	case strings.Contains(id, "llama3") && strings.Contains(id, "405b"):
		return 128000
	case strings.Contains(id, "llama3"):
		return 8192
	case strings.Contains(id, "llama2"):
		return 4096
	case strings.Contains(id, "mistral"), strings.Contains(id, "mixtral"):
		return 32768
	case strings.Contains(id, "command-r"):
		return 128000
	case strings.Contains(id, "jamba"):
		return 256000
	case strings.Contains(id, "titan-text-lite"):
		return 4096
	case strings.Contains(id, "titan"):
		return 8192
	default:
		return defaultContextWindow
	}
}

func maxTokensFor(id string) int {
	switch {
	case strings.Contains(id, "claude-3-5"), strings.Contains(id, "claude-sonnet-4"), strings.Contains(id, "claude-opus-4"):
		return 8192
	case strings.Contains(id, "claude"):
		return 4096
	case strings.Contains(id, "llama"):
		return 2048
	case strings.Contains(id, "titan"):
		return 8192
	default:
		return defaultMaxTokens
	}
}
