package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/cortexgw/cortex/pkg/models"
)

// Gemini is the plugin for the Gemini API dialects. Tool calls arrive as
// atomic functionCall parts with structured arguments, not fragment
// streams, so each one is re-serialized and emitted as a single complete
// delta. Gemini assigns no tool call ids; synthetic ones are minted per
// call.
type Gemini struct {
	family models.ProviderFamily
}

// NewGemini returns the plugin for one of the Gemini families.
func NewGemini(family models.ProviderFamily) *Gemini {
	return &Gemini{family: family}
}

// Family implements Plugin.
func (p *Gemini) Family() models.ProviderFamily { return p.family }

// Execute implements Plugin.
func (p *Gemini) Execute(ctx context.Context, req *Request) (*Result, error) {
	cfg := &genai.ClientConfig{
		APIKey:  req.Endpoint.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if req.Endpoint.URL != "" {
		cfg.HTTPOptions.BaseURL = req.Endpoint.URL
	}
	if len(req.Endpoint.Headers) > 0 {
		cfg.HTTPOptions.Headers = make(http.Header, len(req.Endpoint.Headers))
		for k, v := range req.Endpoint.Headers {
			cfg.HTTPOptions.Headers.Set(k, v)
		}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, wrapWire(p.family, req.Model.Name, err)
	}

	contents := p.buildContents(req.Messages)
	config := p.buildConfig(req)

	em := newEmitter(req)
	finish := models.FinishStop
	sawFinish := false
	toolIndex := -1

	for resp, err := range client.Models.GenerateContentStream(ctx, req.Model.Name, contents, config) {
		if err != nil {
			return nil, wrapWire(p.family, req.Model.Name, err)
		}
		if resp == nil {
			continue
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil {
				continue
			}
			if candidate.Content != nil {
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						em.Text(0, part.Text)
					}
					if part.FunctionCall != nil {
						args, jsonErr := json.Marshal(part.FunctionCall.Args)
						if jsonErr != nil {
							args = []byte("{}")
						}
						toolIndex++
						em.ToolDelta(0, toolIndex, newGeminiCallID(part.FunctionCall.Name), part.FunctionCall.Name, string(args))
					}
				}
			}
			if reason := string(candidate.FinishReason); reason != "" {
				finish = geminiFinish(reason)
				sawFinish = true
			}
		}
		if resp.UsageMetadata != nil {
			em.SetUsage(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
		}
	}

	// Gemini reports STOP even when the turn ended on tool calls.
	if em.acc.Len() > 0 && (!sawFinish || finish == models.FinishStop) {
		finish = models.FinishToolCalls
	}
	em.Finish(finish)
	return em.Result(), nil
}

// buildContents converts a normalized history to Gemini content turns.
// Tool results ride as functionResponse parts on the user side; the tool
// name is recovered from the assistant turn that issued the call.
func (p *Gemini) buildContents(history []models.ChatMessage) []*genai.Content {
	history = NormalizeHistory(history)
	var result []*genai.Content

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			// System text rides in config.SystemInstruction.
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			raw := msg.Content.Flatten()
			if json.Unmarshal([]byte(raw), &response) != nil || response == nil {
				response = map[string]any{"result": raw}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCall(msg.ToolCallID, history),
					Response: response,
				},
			})
			result = append(result, content)
			continue
		}

		switch {
		case msg.Content.IsString():
			if *msg.Content.Str != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: *msg.Content.Str})
			}
		case !msg.Content.IsNull():
			for _, part := range msg.Content.Parts {
				if part.Type == models.PartImage || part.Type == models.PartImageURL {
					if p.family == models.FamilyGeminiVision {
						if gp := geminiImagePart(partImageURL(part)); gp != nil {
							content.Parts = append(content.Parts, gp)
						}
					} else if text := partText(part); text != "" {
						content.Parts = append(content.Parts, &genai.Part{Text: text})
					}
					continue
				}
				if text := partText(part); text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: text})
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if json.Unmarshal([]byte(tc.Function.Arguments), &args) != nil || args == nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

// buildConfig assembles generation settings from the request.
func (p *Gemini) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.Params.MaxTokens)
	}
	if req.Params.Temperature != nil {
		t := float32(*req.Params.Temperature)
		config.Temperature = &t
	}
	if req.Params.TopP != nil {
		t := float32(*req.Params.TopP)
		config.TopP = &t
	}
	if len(req.Params.Stop) > 0 {
		config.StopSequences = req.Params.Stop
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}
	return config
}

// geminiImagePart builds an image part from either a base64 data URL
// (inline blob) or a fetchable URI.
func geminiImagePart(url string) *genai.Part {
	if url == "" {
		return nil
	}
	if mediaType, payload, ok := splitDataURL(url); ok {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}}
	}
	return &genai.Part{FileData: &genai.FileData{FileURI: url, MIMEType: guessImageMIME(url)}}
}

func guessImageMIME(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// toGeminiTools converts tool definitions to function declarations. All
// declarations ride in a single Tool per the API shape.
func toGeminiTools(tools []models.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if json.Unmarshal(t.Parameters, &schemaMap) != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to the Gemini Schema type.
// Only the subset Gemini understands survives: type, description, enum,
// properties, required, items.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

// newGeminiCallID mints a synthetic tool call id; the dialect has none.
func newGeminiCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// toolNameForCall finds the tool name behind a call id by scanning the
// assistant turns; functionResponse parts are keyed by name, not id.
func toolNameForCall(toolCallID string, history []models.ChatMessage) string {
	for _, msg := range history {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Function.Name
			}
		}
	}
	// Synthetic ids carry the name: call_<name>_<nanos>.
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 3 {
		return strings.Join(parts[1:len(parts)-1], "_")
	}
	return toolCallID
}

// geminiFinish maps a candidate finish reason into the normalized
// vocabulary.
func geminiFinish(reason string) models.FinishReason {
	switch strings.ToUpper(reason) {
	case "STOP":
		return models.FinishStop
	case "MAX_TOKENS":
		return models.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return models.FinishContentFilter
	default:
		return models.FinishStop
	}
}
