package providers

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// Completion is the plugin for the legacy text-completions dialect. The
// wire has no chat structure, so the history renders to a single prompt:
// turns are prefixed with their role, content parts flatten to text with
// short descriptors for anything non-text, and a trailing assistant
// prefix cues the model to answer.
type Completion struct {
	newClient func(models.Endpoint) *openai.Client
}

// NewCompletion returns the legacy completions plugin.
func NewCompletion() *Completion {
	return &Completion{newClient: newOpenAIClient}
}

// Family implements Plugin.
func (p *Completion) Family() models.ProviderFamily { return models.FamilyOpenAICompletion }

// Execute implements Plugin. Tools are not representable on this wire and
// are ignored.
func (p *Completion) Execute(ctx context.Context, req *Request) (*Result, error) {
	client := p.newClient(req.Endpoint)
	em := newEmitter(req)

	compReq := openai.CompletionRequest{
		Model:  req.Model.Name,
		Prompt: completionPrompt(req.System, req.Messages),
	}
	if req.Params.MaxTokens > 0 {
		compReq.MaxTokens = req.Params.MaxTokens
	}
	if req.Params.Temperature != nil {
		compReq.Temperature = float32(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		compReq.TopP = float32(*req.Params.TopP)
	}
	if len(req.Params.Stop) > 0 {
		compReq.Stop = req.Params.Stop
	}

	if !req.Model.SupportsStreaming {
		resp, err := client.CreateCompletion(ctx, compReq)
		if err != nil {
			return nil, wrapOpenAIErr(models.FamilyOpenAICompletion, req.Model.Name, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fault.Newf(fault.KindNonRetryable, "%s: model %s: response has no choices",
				models.FamilyOpenAICompletion, req.Model.Name)
		}
		em.Text(0, resp.Choices[0].Text)
		if resp.Usage != nil {
			em.SetUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		em.Finish(normalizeOpenAIFinish(resp.Choices[0].FinishReason))
		return em.Result(), nil
	}

	compReq.Stream = true
	stream, err := client.CreateCompletionStream(ctx, compReq)
	if err != nil {
		return nil, wrapOpenAIErr(models.FamilyOpenAICompletion, req.Model.Name, err)
	}
	defer stream.Close()

	finish := models.FinishStop
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrapOpenAIErr(models.FamilyOpenAICompletion, req.Model.Name, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		em.Text(0, resp.Choices[0].Text)
		// Usage arrives only on the final chunk, when at all.
		if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
			em.SetUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		if r := resp.Choices[0].FinishReason; r != "" {
			finish = normalizeOpenAIFinish(r)
		}
	}
	em.Finish(finish)
	return em.Result(), nil
}

// completionPrompt flattens a chat history into legacy prompt text.
func completionPrompt(system string, history []models.ChatMessage) string {
	history = NormalizeHistory(history)
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			b.WriteString(msg.Content.Flatten())
			b.WriteString("\n\n")
			continue
		}
		text := msg.Content.Flatten()
		if text == "" {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			b.WriteString("Assistant: ")
		case models.RoleTool:
			b.WriteString("Tool: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
