package providers

import (
	"context"

	"github.com/cortexgw/cortex/pkg/models"
)

// Local is the plugin for local HTTP backends speaking the OpenAI chat
// wire: llama.cpp servers, vLLM, test stubs. It is the compatible dialect
// minus any auth expectations; everything rides on the endpoint URL.
type Local struct {
	inner *OpenAI
}

// NewLocal returns the local-backend plugin.
func NewLocal() *Local {
	return &Local{inner: &OpenAI{
		family:    models.FamilyLocal,
		newClient: newOpenAIClient,
	}}
}

// Family implements Plugin.
func (p *Local) Family() models.ProviderFamily { return models.FamilyLocal }

// Execute implements Plugin.
func (p *Local) Execute(ctx context.Context, req *Request) (*Result, error) {
	return p.inner.Execute(ctx, req)
}
