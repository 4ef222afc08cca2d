package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexgw/cortex/internal/executor"
	"github.com/cortexgw/cortex/internal/pathway"
	"github.com/cortexgw/cortex/pkg/models"
)

// modelList is the GET /v1/models envelope.
type modelList struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels lists the configured models plus every pathway emulation
// alias, so OpenAI clients can discover pathways as if they were models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	now := time.Now().Unix()
	list := modelList{Object: "list"}
	for _, m := range s.exec.Models() {
		list.Data = append(list.Data, modelInfo{ID: m.Name, Object: "model", Created: now, OwnedBy: "cortex"})
	}
	for alias := range s.exec.Pathways().Aliases() {
		list.Data = append(list.Data, modelInfo{ID: alias, Object: "model", Created: now, OwnedBy: "cortex"})
	}
	if list.Data == nil {
		list.Data = []modelInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

// wireTool is the OpenAI tools element: a typed wrapper around a function
// declaration.
type wireTool struct {
	Type     string                `json:"type"`
	Function models.ToolDefinition `json:"function"`
}

// chatCompletionRequest is the accepted subset of the OpenAI chat shape.
// Sampling parameters are governed by the resolved pathway and ignored
// here.
type chatCompletionRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream,omitempty"`
	User     string               `json:"user,omitempty"`

	Tools []wireTool `json:"tools,omitempty"`

	// Functions is the pre-tools declaration shape, still sent by older
	// clients.
	Functions []models.ToolDefinition `json:"functions,omitempty"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int                 `json:"index"`
	Message      models.ChatMessage  `json:"message"`
	FinishReason models.FinishReason `json:"finish_reason"`
}

// resolveModel maps an OpenAI model name onto a pathway: emulation
// aliases first, then pathway names directly. Raw model names do not
// resolve; every REST request runs through a pathway.
func (s *Server) resolveModel(name string) (*pathway.Pathway, bool) {
	if p, ok := s.exec.Pathways().ResolveAlias(name); ok {
		return p, true
	}
	return s.exec.Pathways().Get(name)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}
	p, ok := s.resolveModel(req.Model)
	if !ok {
		writeModelNotFound(w, req.Model)
		return
	}

	tools := make([]models.ToolDefinition, 0, len(req.Tools)+len(req.Functions))
	for _, t := range req.Tools {
		tools = append(tools, t.Function)
	}
	tools = append(tools, req.Functions...)

	run := executor.RunRequest{
		Pathway:     p.Name,
		ChatHistory: req.Messages,
		ContextID:   req.User,
		Tools:       tools,
		RequestID:   uuid.NewString(),
	}

	if req.Stream {
		s.streamCompletion(w, r, run, req.Model, forwardChatChunk)
		return
	}

	resp, err := s.exec.Run(r.Context(), run)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponseFrom(resp, req.Model))
}

// chatResponseFrom shapes an executor result as a chat completion. A
// handed-back tool call becomes an assistant message with tool_calls and
// null content.
func chatResponseFrom(resp *executor.RunResponse, model string) chatCompletionResponse {
	out := chatCompletionResponse{
		ID:      models.NewChunkID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}
	if resp.Tool != "" {
		args, _ := resp.Result.(string)
		out.Choices = []chatChoice{{
			Message: models.ChatMessage{
				Role:      models.RoleAssistant,
				ToolCalls: []models.ToolCall{models.NewToolCall("call_"+uuid.NewString(), resp.Tool, args)},
			},
			FinishReason: models.FinishToolCalls,
		}}
		return out
	}
	out.Choices = []chatChoice{{
		Message:      models.NewTextMessage(models.RoleAssistant, resultText(resp.Result)),
		FinishReason: models.FinishStop,
	}}
	return out
}

// completionRequest is the legacy /v1/completions shape. Prompt accepts a
// string or an array of strings.
type completionRequest struct {
	Model  string          `json:"model"`
	Prompt json.RawMessage `json:"prompt"`
	Stream bool            `json:"stream,omitempty"`
	User   string          `json:"user,omitempty"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
}

type completionChoice struct {
	Text         string              `json:"text"`
	Index        int                 `json:"index"`
	FinishReason models.FinishReason `json:"finish_reason"`
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	prompt, err := decodePrompt(req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "prompt must not be empty")
		return
	}
	p, ok := s.resolveModel(req.Model)
	if !ok {
		writeModelNotFound(w, req.Model)
		return
	}

	run := executor.RunRequest{
		Pathway:   p.Name,
		Text:      prompt,
		ContextID: req.User,
		RequestID: uuid.NewString(),
	}

	if req.Stream {
		s.streamCompletion(w, r, run, req.Model, forwardLegacyChunk)
		return
	}

	resp, err := s.exec.Run(r.Context(), run)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []completionChoice{{Text: resultText(resp.Result), FinishReason: models.FinishStop}},
	})
}

func decodePrompt(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "\n"), nil
	}
	return "", errInvalidPrompt
}

var errInvalidPrompt = &promptError{}

type promptError struct{}

func (*promptError) Error() string { return "prompt must be a string or an array of strings" }

// resultText flattens a pathway result for the completion wire: strings
// pass through, structured outputs serialize to JSON.
func resultText(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	raw, err := jsonFast.MarshalToString(result)
	if err != nil {
		return ""
	}
	return raw
}
