package providers

import (
	"context"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cast"

	"github.com/cortexgw/cortex/pkg/models"
)

// Compatible is the plugin for OpenAI-compatible REST endpoints: Azure
// deployments and the long tail of gateways speaking the chat-completions
// wire. Azure endpoints differ only in auth header and URL layout, which
// the client config absorbs; the translation path is shared with the
// OpenAI plugin.
//
// Azure is selected by the endpoint param `apiType: azure` or a
// *.azure.com endpoint URL; the optional `apiVersion` param overrides the
// SDK default.
type Compatible struct {
	inner *OpenAI
}

// NewCompatible returns the compatible-REST plugin.
func NewCompatible(shrink ImageShrinker) *Compatible {
	return &Compatible{inner: &OpenAI{
		family:    models.FamilyOpenAICompatible,
		shrink:    shrink,
		newClient: newCompatClient,
	}}
}

// Family implements Plugin.
func (p *Compatible) Family() models.ProviderFamily { return models.FamilyOpenAICompatible }

// Execute implements Plugin.
func (p *Compatible) Execute(ctx context.Context, req *Request) (*Result, error) {
	return p.inner.Execute(ctx, req)
}

// newCompatClient builds the client for a compatible endpoint, switching
// to the Azure config when the endpoint declares it.
func newCompatClient(ep models.Endpoint) *openai.Client {
	if !isAzureEndpoint(ep) {
		return newOpenAIClient(ep)
	}
	cfg := openai.DefaultAzureConfig(ep.APIKey, strings.TrimRight(ep.URL, "/"))
	if v := cast.ToString(ep.Params["apiVersion"]); v != "" {
		cfg.APIVersion = v
	}
	if len(ep.Headers) > 0 {
		cfg.HTTPClient = &http.Client{Transport: headerTransport{headers: ep.Headers, base: http.DefaultTransport}}
	}
	return openai.NewClientWithConfig(cfg)
}

func isAzureEndpoint(ep models.Endpoint) bool {
	if strings.EqualFold(cast.ToString(ep.Params["apiType"]), "azure") {
		return true
	}
	return strings.Contains(strings.ToLower(ep.URL), ".azure.com")
}
