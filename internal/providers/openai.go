package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cast"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// openaiImageMaxBytes is the inline image budget before downscaling kicks
// in. OpenAI rejects data URLs past 20MB.
const openaiImageMaxBytes = 20 * 1024 * 1024

// maxEmptyStreamEvents bounds consecutive no-payload stream events before
// the stream is declared malformed. Reasoning models legitimately go quiet
// for long stretches, so the guard is disabled for that family.
const maxEmptyStreamEvents = 300

// OpenAI is the plugin for the OpenAI chat dialects: plain chat, vision,
// and reasoning. All three speak the same wire format; the family selects
// which knobs are encoded. Vision models take image parts as multi-content
// messages, and reasoning models reject sampling parameters and meter
// output through max_completion_tokens.
//
// The compatible and local families reuse this plugin with their own
// client builders, since they speak the same dialect over different
// transport configurations.
type OpenAI struct {
	family    models.ProviderFamily
	shrink    ImageShrinker
	newClient func(models.Endpoint) *openai.Client
}

// NewOpenAI returns the plugin for one of the OpenAI chat families.
func NewOpenAI(family models.ProviderFamily, shrink ImageShrinker) *OpenAI {
	return &OpenAI{family: family, shrink: shrink, newClient: newOpenAIClient}
}

// Family implements Plugin.
func (p *OpenAI) Family() models.ProviderFamily { return p.family }

// Execute implements Plugin. Requests stream by default; models declared
// non-streaming fall back to a one-shot completion whose full text is
// replayed as a single delta so the caller sees a uniform chunk stream.
func (p *OpenAI) Execute(ctx context.Context, req *Request) (*Result, error) {
	client := p.newClient(req.Endpoint)
	em := newEmitter(req)

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model.Name,
		Messages: buildOpenAIMessages(req.System, req.Messages, p.family == models.FamilyOpenAIVision, p.shrink),
	}
	p.applyParams(&chatReq, req.Params)
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	if !req.Model.SupportsStreaming {
		return p.executeOnce(ctx, client, chatReq, req, em)
	}

	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapOpenAIErr(p.family, req.Model.Name, err)
	}
	defer stream.Close()

	empties := 0
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrapOpenAIErr(p.family, req.Model.Name, err)
		}
		if len(resp.Choices) == 0 && resp.Usage == nil {
			empties++
			if p.family != models.FamilyOpenAIReasoning && empties >= maxEmptyStreamEvents {
				return nil, fault.Newf(fault.KindRetryable,
					"%s: model %s: %d consecutive empty stream events", p.family, req.Model.Name, empties)
			}
			continue
		}
		empties = 0
		if err := em.Chunk(fromOpenAIStream(&resp)); err != nil {
			return nil, err
		}
	}
	if !em.Finished() {
		em.Finish(models.FinishStop)
	}
	return em.Result(), nil
}

// executeOnce runs the non-streaming path and replays the response through
// the emitter so streaming callers still receive deltas.
func (p *OpenAI) executeOnce(ctx context.Context, client *openai.Client, chatReq openai.ChatCompletionRequest, req *Request, em *emitter) (*Result, error) {
	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, wrapOpenAIErr(p.family, req.Model.Name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fault.Newf(fault.KindNonRetryable, "%s: model %s: response has no choices", p.family, req.Model.Name)
	}
	choice := resp.Choices[0]
	em.Text(0, choice.Message.Content)
	for i, tc := range choice.Message.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		em.ToolDelta(0, idx, tc.ID, tc.Function.Name, tc.Function.Arguments)
	}
	em.SetUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	em.Finish(normalizeOpenAIFinish(string(choice.FinishReason)))
	return em.Result(), nil
}

// applyParams encodes the generation knobs the family accepts.
func (p *OpenAI) applyParams(chatReq *openai.ChatCompletionRequest, params Params) {
	if p.family == models.FamilyOpenAIReasoning {
		// Reasoning models reject sampling knobs and meter output via
		// max_completion_tokens.
		if params.MaxTokens > 0 {
			chatReq.MaxCompletionTokens = params.MaxTokens
		}
		if v, ok := params.Extra["reasoning_effort"]; ok {
			chatReq.ReasoningEffort = cast.ToString(v)
		}
		return
	}
	if params.MaxTokens > 0 {
		chatReq.MaxTokens = params.MaxTokens
	}
	if params.Temperature != nil {
		chatReq.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		chatReq.TopP = float32(*params.TopP)
	}
	if params.FrequencyPenalty != nil {
		chatReq.FrequencyPenalty = float32(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		chatReq.PresencePenalty = float32(*params.PresencePenalty)
	}
	if len(params.Stop) > 0 {
		chatReq.Stop = params.Stop
	}
	if v, ok := params.Extra["user"]; ok {
		chatReq.User = cast.ToString(v)
	}
	if v, ok := params.Extra["seed"]; ok {
		seed := cast.ToInt(v)
		chatReq.Seed = &seed
	}
}

// newOpenAIClient builds a go-openai client bound to one endpoint. A
// non-empty endpoint URL overrides the public base URL, and endpoint
// headers ride every outbound request via the transport.
func newOpenAIClient(ep models.Endpoint) *openai.Client {
	cfg := openai.DefaultConfig(ep.APIKey)
	if ep.URL != "" {
		cfg.BaseURL = strings.TrimRight(ep.URL, "/")
	}
	if len(ep.Headers) > 0 {
		cfg.HTTPClient = &http.Client{Transport: headerTransport{headers: ep.Headers, base: http.DefaultTransport}}
	}
	return openai.NewClientWithConfig(cfg)
}

// headerTransport stamps fixed headers on every request it forwards.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	clone := r.Clone(r.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}

// buildOpenAIMessages converts a normalized history to the go-openai
// message shape. The system prompt rides as the leading system message.
// Image parts become multi-content only for vision models; everywhere
// else content flattens to text so non-vision models never see image
// payloads.
func buildOpenAIMessages(system string, history []models.ChatMessage, vision bool, shrink ImageShrinker) []openai.ChatCompletionMessage {
	history = NormalizeHistory(history)
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range history {
		m := openai.ChatCompletionMessage{Role: string(msg.Role), Name: msg.Name}
		switch msg.Role {
		case models.RoleAssistant:
			if !msg.Content.IsNull() {
				m.Content = msg.Content.Flatten()
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
				})
			}
		case models.RoleTool:
			m.Content = msg.Content.Flatten()
			m.ToolCallID = msg.ToolCallID
		default:
			if vision && hasImageParts(msg.Content) {
				m.MultiContent = toOpenAIParts(msg.Content.Parts, shrink)
			} else {
				m.Content = msg.Content.Flatten()
			}
		}
		out = append(out, m)
	}
	return out
}

// hasImageParts reports whether the content carries at least one image
// with a usable location.
func hasImageParts(c models.RawContent) bool {
	for _, p := range c.Parts {
		if (p.Type == models.PartImage || p.Type == models.PartImageURL) && partImageURL(p) != "" {
			return true
		}
	}
	return false
}

// toOpenAIParts encodes a content-part sequence as multi-content. Inline
// data URLs are downscaled to the vendor budget when a shrinker is wired.
func toOpenAIParts(parts []models.ContentPart, shrink ImageShrinker) []openai.ChatMessagePart {
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		if p.Type == models.PartImage || p.Type == models.PartImageURL {
			url := partImageURL(p)
			if url == "" {
				continue
			}
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    shrinkInlineImage(shrink, url, openaiImageMaxBytes),
					Detail: openai.ImageURLDetailAuto,
				},
			})
			continue
		}
		if text := partText(p); text != "" {
			out = append(out, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
		}
	}
	return out
}

// shrinkInlineImage downscales a data: URL when a shrinker is available.
// Fetch-by-URL images and shrink failures pass through unchanged.
func shrinkInlineImage(shrink ImageShrinker, url string, maxBytes int) string {
	if shrink == nil || !strings.HasPrefix(url, "data:") {
		return url
	}
	if small, err := shrink.ShrinkDataURL(url, maxBytes); err == nil {
		return small
	}
	return url
}

// toOpenAITools converts tool definitions to OpenAI function schemas. A
// definition with an unparsable schema degrades to an empty object schema
// so one bad tool cannot break the rest.
func toOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Parameters) == 0 || json.Unmarshal(t.Parameters, &schema) != nil || schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// fromOpenAIStream maps one go-openai stream event to the normalized
// chunk shape. The field names match the wire, so this is a structural
// copy; finish reasons outside the normalized vocabulary collapse to stop.
func fromOpenAIStream(resp *openai.ChatCompletionStreamResponse) *models.ChatCompletionChunk {
	c := &models.ChatCompletionChunk{
		ID:      resp.ID,
		Object:  models.ChunkObject,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: make([]models.ChunkChoice, 0, len(resp.Choices)),
	}
	for _, ch := range resp.Choices {
		choice := models.ChunkChoice{
			Index: ch.Index,
			Delta: models.ChunkDelta{Role: ch.Delta.Role, Content: ch.Delta.Content},
		}
		for _, tc := range ch.Delta.ToolCalls {
			choice.Delta.ToolCalls = append(choice.Delta.ToolCalls, models.ToolCall{
				Index:    tc.Index,
				ID:       tc.ID,
				Type:     string(tc.Type),
				Function: models.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		if ch.FinishReason != "" {
			reason := normalizeOpenAIFinish(string(ch.FinishReason))
			choice.FinishReason = &reason
		}
		c.Choices = append(c.Choices, choice)
	}
	if resp.Usage != nil {
		c.Usage = &models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return c
}

// normalizeOpenAIFinish maps a wire finish reason into the normalized
// vocabulary. OpenAI already speaks it; anything unrecognized maps to
// stop rather than leaking a vendor-specific value downstream.
func normalizeOpenAIFinish(reason string) models.FinishReason {
	switch r := models.FinishReason(reason); r {
	case models.FinishStop, models.FinishLength, models.FinishToolCalls,
		models.FinishFunctionCall, models.FinishContentFilter:
		return r
	default:
		return models.FinishStop
	}
}

// wrapOpenAIErr classifies a go-openai failure. API errors carry an HTTP
// status; everything else classifies by wire shape.
func wrapOpenAIErr(family models.ProviderFamily, model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus(family, model, apiErr.HTTPStatusCode, err)
	}
	return wrapWire(family, model, err)
}
