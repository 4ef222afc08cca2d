// Package providers implements the vendor plugin layer: one plugin per
// provider family, each translating between the gateway's normalized chat
// types and a vendor wire dialect.
//
// Every plugin satisfies the same execution contract. The caller hands it a
// resolved Request (system prompt, normalized history, tool schemas, model
// and endpoint descriptors) and the plugin drives the vendor's streaming
// API, emitting OpenAI chat.completion.chunk events through the request's
// Emit sink as deltas arrive. The aggregated Result carries the final text,
// assembled tool calls, citations, finish reason, and usage.
//
// Plugins never retry. They classify wire failures into internal/fault
// kinds and return; attempt policy and endpoint re-selection belong to the
// rate-limit pool driving them.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// Plugin is the uniform execution contract every provider family implements.
type Plugin interface {
	// Family reports the provider dialect this plugin speaks.
	Family() models.ProviderFamily

	// Execute runs one model invocation against the request's endpoint.
	// When req.Stream is set, normalized chunks are emitted through
	// req.Emit as they arrive; the aggregated result is returned either
	// way. Errors come back classified into fault kinds.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Params are the generation knobs shared across dialects. Nil pointer
// fields are omitted from the outbound request so vendor defaults apply.
type Params struct {
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        int
	Stop             []string

	// Extra carries endpoint-specific parameters that have no common
	// field, merged verbatim into the outbound payload where the dialect
	// permits.
	Extra map[string]any
}

// Request is one resolved model invocation.
type Request struct {
	// RequestID correlates emitted chunks and log lines.
	RequestID string

	Model    models.Model
	Endpoint models.Endpoint

	// System is the rendered pathway prompt. Empty means none.
	System string

	// Messages is the chat history. Plugins normalize it before encoding;
	// normalization is idempotent, so pre-normalized history is fine.
	Messages []models.ChatMessage

	Tools  []models.ToolDefinition
	Params Params

	// Stream requests chunk emission. Emit must be non-nil when set.
	Stream bool

	// EmulateModel, when non-empty, replaces the backing model id on every
	// emitted chunk so callers see the pathway's declared model name.
	EmulateModel string

	// Timeout is the pathway deadline governing this invocation. Plugins
	// with inter-event idle guards keep them below this value or disable
	// them entirely for slow-thinking models.
	Timeout time.Duration

	// Emit receives each normalized chunk in arrival order.
	Emit func(*models.ChatCompletionChunk)
}

// chunkModel returns the model name stamped on emitted chunks.
func (r *Request) chunkModel() string {
	if r.EmulateModel != "" {
		return r.EmulateModel
	}
	return r.Model.Name
}

// Result is the aggregated outcome of one invocation.
type Result struct {
	// Text is the concatenated content of the first choice.
	Text string

	// ToolCalls are the assembled invocations, in first-appearance order,
	// complete only when FinishReason is tool_calls.
	ToolCalls []models.ToolCall

	// Citations collected out-of-band from search-capable providers.
	Citations []models.Citation

	FinishReason models.FinishReason
	Usage        *models.Usage
}

// ImageShrinker downscales oversized inline images before outbound
// encoding. Implemented by internal/media.
type ImageShrinker interface {
	// ShrinkDataURL re-encodes a data: URL to fit maxBytes, preserving
	// aspect ratio. Non-data URLs and already-small payloads pass through.
	ShrinkDataURL(dataURL string, maxBytes int) (string, error)
}

// ErrUnknownFamily is returned by Registry.For when no plugin is bound to
// the requested family.
var ErrUnknownFamily = errors.New("providers: unknown provider family")

// Registry maps provider families to their plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[models.ProviderFamily]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[models.ProviderFamily]Plugin)}
}

// Register binds a plugin to its family, replacing any previous binding.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Family()] = p
}

// For resolves the plugin for a family.
func (r *Registry) For(family models.ProviderFamily) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	return p, nil
}

// Families lists the registered families.
func (r *Registry) Families() []models.ProviderFamily {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ProviderFamily, 0, len(r.plugins))
	for f := range r.plugins {
		out = append(out, f)
	}
	return out
}

// NewDefaultRegistry wires every built-in family. The shrinker may be nil,
// in which case oversized inline images are sent as-is.
func NewDefaultRegistry(shrink ImageShrinker) *Registry {
	r := NewRegistry()
	r.Register(NewOpenAI(models.FamilyOpenAIChat, shrink))
	r.Register(NewOpenAI(models.FamilyOpenAIVision, shrink))
	r.Register(NewOpenAI(models.FamilyOpenAIReasoning, shrink))
	r.Register(NewCompletion())
	r.Register(NewCompatible(shrink))
	r.Register(NewAnthropic(shrink))
	r.Register(NewBedrock())
	r.Register(NewGemini(models.FamilyGeminiChat))
	r.Register(NewGemini(models.FamilyGeminiVision))
	r.Register(NewGrok())
	r.Register(NewLocal())
	return r
}

// wrapWire classifies a transport error from a vendor SDK and wraps it
// with the family and model for the log line. Terminal context errors and
// already-classified faults pass through unchanged.
func wrapWire(family models.ProviderFamily, model string, err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	kind := fault.ClassifyWire(err)
	if kind == fault.KindUnknown {
		kind = fault.KindNonRetryable
	}
	return fault.Wrap(kind, fmt.Sprintf("%s: model %s", family, model), err)
}

// wrapStatus is wrapWire for errors that carry an HTTP status code.
func wrapStatus(family models.ProviderFamily, model string, status int, err error) error {
	if err == nil {
		return nil
	}
	kind := fault.ClassifyStatus(status)
	if kind == fault.KindUnknown {
		kind = fault.ClassifyWire(err)
	}
	if kind == fault.KindUnknown {
		kind = fault.KindNonRetryable
	}
	return fault.Wrap(kind, fmt.Sprintf("%s: model %s: status %d", family, model, status), err)
}
