package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/spf13/cast"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

const bedrockDefaultRegion = "us-east-1"

// Bedrock is the plugin for Anthropic models behind the AWS Converse
// API. The event stream mirrors the Messages API shape: a toolUse block
// start carries id and name, then input fragments stream until the block
// stops. Usage arrives in a metadata event after message stop, so the
// terminal chunk is held until the stream drains.
//
// Endpoint credentials resolve in order: explicit accessKeyId and
// secretAccessKey endpoint params, an apiKey of the form
// "ACCESS_KEY:SECRET_KEY", then the default AWS chain (env, shared
// config, IAM role).
type Bedrock struct {
	mu      sync.Mutex
	clients map[string]*bedrockruntime.Client
}

// NewBedrock returns the Converse API plugin.
func NewBedrock() *Bedrock {
	return &Bedrock{clients: make(map[string]*bedrockruntime.Client)}
}

// Family implements Plugin.
func (p *Bedrock) Family() models.ProviderFamily { return models.FamilyBedrock }

// Execute implements Plugin.
func (p *Bedrock) Execute(ctx context.Context, req *Request) (*Result, error) {
	client, err := p.clientFor(ctx, req.Endpoint)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model.Name),
		Messages: toBedrockMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	input.InferenceConfig = bedrockInference(req)
	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockTools(req.Tools)
	}

	stream, err := client.ConverseStream(ctx, input)
	if err != nil {
		return nil, wrapWire(models.FamilyBedrock, req.Model.Name, err)
	}

	eventStream := stream.GetStream()
	defer eventStream.Close()

	em := newEmitter(req)
	finish := models.FinishStop
	toolIndex := -1
	inToolBlock := false

	for event := range eventStream.Events() {
		if ctx.Err() != nil {
			return nil, wrapWire(models.FamilyBedrock, req.Model.Name, ctx.Err())
		}
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				toolIndex++
				inToolBlock = true
				em.ToolDelta(0, toolIndex, aws.ToString(toolUse.Value.ToolUseId), aws.ToString(toolUse.Value.Name), "")
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				em.Text(0, delta.Value)
			case *types.ContentBlockDeltaMemberToolUse:
				if inToolBlock && delta.Value.Input != nil {
					em.ToolDelta(0, toolIndex, "", "", *delta.Value.Input)
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			inToolBlock = false

		case *types.ConverseStreamOutputMemberMessageStop:
			// Hold the terminal chunk: the usage metadata event trails
			// message stop.
			finish = bedrockFinish(string(ev.Value.StopReason))

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				em.SetUsage(int(aws.ToInt32(ev.Value.Usage.InputTokens)), int(aws.ToInt32(ev.Value.Usage.OutputTokens)))
			}
		}
	}
	if err := eventStream.Err(); err != nil {
		return nil, wrapWire(models.FamilyBedrock, req.Model.Name, err)
	}
	em.Finish(finish)
	return em.Result(), nil
}

// clientFor returns the cached client for an endpoint, building one on
// first use. AWS config loading touches the filesystem, so clients are
// reused per endpoint and region.
func (p *Bedrock) clientFor(ctx context.Context, ep models.Endpoint) (*bedrockruntime.Client, error) {
	region := cast.ToString(ep.Params["region"])
	if region == "" {
		region = bedrockDefaultRegion
	}
	key := ep.Name + "|" + region + "|" + ep.URL

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	accessKey := cast.ToString(ep.Params["accessKeyId"])
	secretKey := cast.ToString(ep.Params["secretAccessKey"])
	if accessKey == "" {
		if before, after, found := strings.Cut(ep.APIKey, ":"); found {
			accessKey, secretKey = before, after
		}
	}
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, cast.ToString(ep.Params["sessionToken"])),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fault.Wrap(fault.KindNonRetryable, "bedrock: load aws config", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if ep.URL != "" {
		url := ep.URL
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(url)
		})
	}
	client := bedrockruntime.NewFromConfig(awsCfg, clientOpts...)
	p.clients[key] = client
	return client, nil
}

// bedrockInference maps the generation knobs onto the Converse config.
func bedrockInference(req *Request) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	set := false
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = req.Model.MaxReturnTokens
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
		set = true
	}
	if req.Params.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*req.Params.Temperature))
		set = true
	}
	if req.Params.TopP != nil {
		cfg.TopP = aws.Float32(float32(*req.Params.TopP))
		set = true
	}
	if len(req.Params.Stop) > 0 {
		cfg.StopSequences = req.Params.Stop
		set = true
	}
	if !set {
		return nil
	}
	return cfg
}

// toBedrockMessages converts a normalized history to Converse turns.
// Tool results ride as toolResult blocks on the user side; remote image
// URLs are dropped because the dialect takes image bytes only.
func toBedrockMessages(history []models.ChatMessage) []types.Message {
	history = NormalizeHistory(history)
	result := make([]types.Message, 0, len(history))

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock

		if msg.Role == models.RoleTool {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: msg.Content.Flatten()},
					},
				},
			})
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: content})
			continue
		}

		switch {
		case msg.Content.IsString():
			if *msg.Content.Str != "" {
				content = append(content, &types.ContentBlockMemberText{Value: *msg.Content.Str})
			}
		case !msg.Content.IsNull():
			for _, part := range msg.Content.Parts {
				if part.Type == models.PartImage || part.Type == models.PartImageURL {
					if img := bedrockImageBlock(partImageURL(part)); img != nil {
						content = append(content, img)
					}
					continue
				}
				if text := partText(part); text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: text})
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if json.Unmarshal([]byte(tc.Function.Arguments), &inputDoc) != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Function.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

// bedrockImageBlock decodes a base64 data URL into an image block.
func bedrockImageBlock(url string) types.ContentBlock {
	mediaType, payload, ok := splitDataURL(url)
	if !ok {
		return nil
	}
	format, ok := bedrockImageFormat(mediaType)
	if !ok {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}
}

func bedrockImageFormat(mediaType string) (types.ImageFormat, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/png":
		return types.ImageFormatPng, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

// toBedrockTools converts tool definitions to the Converse tool config.
func toBedrockTools(tools []models.ToolDefinition) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema any
		if len(t.Parameters) == 0 || json.Unmarshal(t.Parameters, &schema) != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		spec := types.ToolSpecification{
			Name:        aws.String(t.Name),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}
		if t.Description != "" {
			spec.Description = aws.String(t.Description)
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{Value: spec}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

// bedrockFinish maps a Converse stop reason into the normalized
// vocabulary.
func bedrockFinish(reason string) models.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return models.FinishStop
	case "max_tokens":
		return models.FinishLength
	case "tool_use":
		return models.FinishToolCalls
	case "guardrail_intervened", "content_filtered":
		return models.FinishContentFilter
	default:
		return models.FinishStop
	}
}
