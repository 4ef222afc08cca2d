package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// anthropicDefaultMaxTokens applies when neither the request nor the model
// declares a return budget; the Messages API requires max_tokens.
const anthropicDefaultMaxTokens = 4096

// anthropicImageMaxBytes is the per-image payload ceiling.
const anthropicImageMaxBytes = 5 * 1024 * 1024

// Anthropic is the plugin for the Messages API dialect. Text arrives as
// text_delta events, tool calls as a tool_use block start followed by
// input_json_delta fragments, and usage splits across message_start
// (input) and message_delta (output).
type Anthropic struct {
	shrink ImageShrinker
}

// NewAnthropic returns the Messages API plugin.
func NewAnthropic(shrink ImageShrinker) *Anthropic { return &Anthropic{shrink: shrink} }

// Family implements Plugin.
func (p *Anthropic) Family() models.ProviderFamily { return models.FamilyAnthropic }

// Execute implements Plugin.
func (p *Anthropic) Execute(ctx context.Context, req *Request) (*Result, error) {
	opts := []option.RequestOption{option.WithAPIKey(req.Endpoint.APIKey)}
	if req.Endpoint.URL != "" {
		opts = append(opts, option.WithBaseURL(req.Endpoint.URL))
	}
	for k, v := range req.Endpoint.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	client := anthropic.NewClient(opts...)

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	em := newEmitter(req)
	stream := client.Messages.NewStreaming(ctx, params)

	finish := models.FinishStop
	toolIndex := -1 // -1 until the first tool_use block opens
	inToolBlock := false
	empties := 0

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			em.SetUsage(int(start.Message.Usage.InputTokens), 0)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				toolIndex++
				inToolBlock = true
				em.ToolDelta(0, toolIndex, toolUse.ID, toolUse.Name, "")
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					em.Text(0, delta.Text)
				} else {
					processed = false
				}
			case "input_json_delta":
				if inToolBlock && delta.PartialJSON != "" {
					em.ToolDelta(0, toolIndex, "", "", delta.PartialJSON)
				} else {
					processed = false
				}
			default:
				processed = false
			}

		case "content_block_stop":
			inToolBlock = false

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			em.SetUsage(0, int(messageDelta.Usage.OutputTokens))
			if reason := string(messageDelta.Delta.StopReason); reason != "" {
				finish = anthropicFinish(reason)
			}

		case "message_stop":
			em.Finish(finish)

		default:
			processed = false
		}

		// Malformed stream protection.
		if processed {
			empties = 0
		} else {
			empties++
			if empties >= maxEmptyStreamEvents {
				return nil, fault.Newf(fault.KindRetryable,
					"%s: model %s: %d consecutive empty stream events",
					models.FamilyAnthropic, req.Model.Name, empties)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapWire(models.FamilyAnthropic, req.Model.Name, err)
	}
	if !em.Finished() {
		em.Finish(finish)
	}
	return em.Result(), nil
}

// buildParams assembles the Messages API request.
func (p *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := p.buildMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = req.Model.MaxReturnTokens
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.Name),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Params.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = anthropic.Float(*req.Params.TopP)
	}
	if len(req.Params.Stop) > 0 {
		params.StopSequences = req.Params.Stop
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// buildMessages converts a normalized history to Messages API turns.
// Tool-role messages become user turns carrying a tool_result block, the
// dialect's encoding for feeding results back.
func (p *Anthropic) buildMessages(history []models.ChatMessage) ([]anthropic.MessageParam, error) {
	history = NormalizeHistory(history)
	result := make([]anthropic.MessageParam, 0, len(history))

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			// System text rides in params.System, never in the turn list.
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content.Flatten(), false))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		switch {
		case msg.Content.IsString():
			if *msg.Content.Str != "" {
				content = append(content, anthropic.NewTextBlock(*msg.Content.Str))
			}
		case !msg.Content.IsNull():
			for _, part := range msg.Content.Parts {
				if part.Type == models.PartImage || part.Type == models.PartImageURL {
					if img := p.imageBlock(partImageURL(part)); img != nil {
						content = append(content, anthropic.ContentBlockParamUnion{OfImage: img})
					}
					continue
				}
				if text := partText(part); text != "" {
					content = append(content, anthropic.NewTextBlock(text))
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if json.Unmarshal([]byte(tc.Function.Arguments), &input) != nil || input == nil {
				// The dialect requires an object; unparsable arguments
				// degrade rather than failing the whole request.
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// imageBlock builds an image source block from either a data URL or a
// fetchable URL. Unsupported media types return nil and the image is
// dropped from the turn.
func (p *Anthropic) imageBlock(url string) *anthropic.ImageBlockParam {
	if url == "" {
		return nil
	}
	url = shrinkInlineImage(p.shrink, url, anthropicImageMaxBytes)
	if mediaType, data, ok := splitDataURL(url); ok {
		mt, ok := anthropicMediaType(mediaType)
		if !ok {
			return nil
		}
		return &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfBase64: &anthropic.Base64ImageSourceParam{Data: data, MediaType: mt},
			},
		}
	}
	return &anthropic.ImageBlockParam{
		Source: anthropic.ImageBlockParamSourceUnion{
			OfURL: &anthropic.URLImageSourceParam{URL: url},
		},
	}
}

func anthropicMediaType(mediaType string) (anthropic.Base64ImageSourceMediaType, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return anthropic.Base64ImageSourceMediaTypeImageJPEG, true
	case "image/png":
		return anthropic.Base64ImageSourceMediaTypeImagePNG, true
	case "image/gif":
		return anthropic.Base64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.Base64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}

// splitDataURL parses a base64 data URL into media type and payload.
func splitDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		return "", "", false
	}
	return mediaType, parts[1], true
}

// toAnthropicTools converts tool definitions to the Messages API shape.
func toAnthropicTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fault.Wrap(fault.KindInputValidation, "invalid tool schema for "+t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fault.Newf(fault.KindInputValidation, "invalid tool schema for %s: missing tool definition", t.Name)
		}
		if t.Description != "" {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

// anthropicFinish maps a Messages API stop reason into the normalized
// vocabulary.
func anthropicFinish(reason string) models.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return models.FinishStop
	case "max_tokens":
		return models.FinishLength
	case "tool_use":
		return models.FinishToolCalls
	case "refusal":
		return models.FinishContentFilter
	default:
		return models.FinishStop
	}
}
