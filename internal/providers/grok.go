package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// grokDefaultBaseURL is the public xAI API host.
const grokDefaultBaseURL = "https://api.x.ai/v1"

// Grok is the plugin for the xAI Responses API dialect. No Go SDK covers
// this wire format, so the plugin drives it over net/http with the shared
// SSE scanner. Text arrives under response.output_text.delta, tool-call
// fragments under response.tool_call.delta keyed by index, and live-search
// results under response.citation.added; response.completed closes the
// stream.
type Grok struct {
	client *http.Client
}

// NewGrok returns the xAI plugin.
func NewGrok() *Grok {
	return &Grok{client: &http.Client{}}
}

// Family implements Plugin.
func (p *Grok) Family() models.ProviderFamily { return models.FamilyGrok }

// grokRequest is the outbound Responses API payload.
type grokRequest struct {
	Model           string     `json:"model"`
	Input           []grokItem `json:"input"`
	Instructions    string     `json:"instructions,omitempty"`
	Tools           []grokTool `json:"tools,omitempty"`
	Stream          bool       `json:"stream"`
	Temperature     *float64   `json:"temperature,omitempty"`
	TopP            *float64   `json:"top_p,omitempty"`
	MaxOutputTokens int        `json:"max_output_tokens,omitempty"`
}

// grokItem is one input item: a chat turn, a prior function call, or a
// function call output.
type grokItem struct {
	Type      string `json:"type,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// grokTool is a function tool declaration, Responses API shape (flat, not
// nested under "function").
type grokTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// grokEvent is one parsed response.* stream event. The event type rides
// either the SSE event name or the payload's type field.
type grokEvent struct {
	Type      string        `json:"type"`
	Delta     string        `json:"delta"`
	Index     int           `json:"index"`
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Citation  *grokCitation `json:"citation"`
	Response  *grokOutcome  `json:"response"`
}

type grokCitation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// grokOutcome is the response envelope on completed/failed events.
type grokOutcome struct {
	Status            string `json:"status"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Execute implements Plugin.
func (p *Grok) Execute(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fault.Wrap(fault.KindInputValidation, "grok: encode request", err)
	}

	base := req.Endpoint.URL
	if base == "" {
		base = grokDefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindInputValidation, "grok: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.Endpoint.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Endpoint.APIKey)
	}
	for k, v := range req.Endpoint.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapWire(models.FamilyGrok, req.Model.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, wrapStatus(models.FamilyGrok, req.Model.Name, resp.StatusCode,
			fmt.Errorf("grok: %s", strings.TrimSpace(string(payload))))
	}

	em := newEmitter(req)
	finish := models.FinishStop
	var streamErr error

	err = scanSSE(resp.Body, func(ev sseEvent) error {
		if ev.Data == "[DONE]" {
			return errStopScan
		}
		var event grokEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			// Tolerate unknown frames; a malformed payload on a known
			// event is a dead stream.
			if ev.Name == "" {
				return nil
			}
			return fault.Wrap(fault.KindRetryable, "grok: malformed event payload", err)
		}
		if event.Type == "" {
			event.Type = ev.Name
		}

		switch event.Type {
		case "response.output_text.delta":
			em.Text(0, event.Delta)

		case "response.tool_call.delta":
			fragment := event.Arguments
			if fragment == "" {
				fragment = event.Delta
			}
			em.ToolDelta(0, event.Index, event.ID, event.Name, fragment)

		case "response.citation.added":
			if event.Citation != nil {
				em.Citation(event.Citation.URL, event.Citation.Title)
			}

		case "response.completed":
			if event.Response != nil {
				if event.Response.Usage != nil {
					em.SetUsage(event.Response.Usage.InputTokens, event.Response.Usage.OutputTokens)
				}
				finish = grokFinish(event.Response, em.acc.Len() > 0)
			} else if em.acc.Len() > 0 {
				finish = models.FinishToolCalls
			}
			return errStopScan

		case "response.failed":
			msg := "stream reported failure"
			if event.Response != nil && event.Response.Error != nil && event.Response.Error.Message != "" {
				msg = event.Response.Error.Message
			}
			streamErr = fault.Newf(fault.KindRetryable, "grok: model %s: %s", req.Model.Name, msg)
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return nil, wrapWire(models.FamilyGrok, req.Model.Name, err)
	}
	if streamErr != nil {
		return nil, streamErr
	}

	em.Finish(finish)
	return em.Result(), nil
}

// buildRequest assembles the outbound payload. History flattens to text;
// assistant tool calls and tool results become function_call and
// function_call_output items per the Responses shape.
func (p *Grok) buildRequest(req *Request) grokRequest {
	history := NormalizeHistory(req.Messages)
	items := make([]grokItem, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleTool:
			items = append(items, grokItem{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: msg.Content.Flatten(),
			})
		case models.RoleAssistant:
			if text := msg.Content.Flatten(); text != "" {
				items = append(items, grokItem{Role: "assistant", Content: text})
			}
			for _, tc := range msg.ToolCalls {
				items = append(items, grokItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		default:
			items = append(items, grokItem{Role: string(msg.Role), Content: msg.Content.Flatten()})
		}
	}

	out := grokRequest{
		Model:           req.Model.Name,
		Input:           items,
		Instructions:    req.System,
		Stream:          true,
		Temperature:     req.Params.Temperature,
		TopP:            req.Params.TopP,
		MaxOutputTokens: req.Params.MaxTokens,
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, grokTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out
}

// grokFinish maps the completed envelope to a normalized finish reason.
func grokFinish(outcome *grokOutcome, hasToolCalls bool) models.FinishReason {
	if outcome.IncompleteDetails != nil {
		switch outcome.IncompleteDetails.Reason {
		case "max_output_tokens", "max_tokens":
			return models.FinishLength
		case "content_filter":
			return models.FinishContentFilter
		}
	}
	if hasToolCalls {
		return models.FinishToolCalls
	}
	return models.FinishStop
}
