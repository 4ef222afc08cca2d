package models

import (
	"encoding/json"
	"strings"
)

// ToolCall is a model-emitted function invocation, OpenAI wire shape.
// During streaming, Index correlates argument fragments across deltas and
// Arguments accumulates; a call is complete only at the terminal chunk
// whose finish reason is tool_calls.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-string arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts either a tool-call object or a JSON-encoded string
// of one (some histories carry stringified tool calls).
func (t *ToolCall) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	type alias ToolCall
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = ToolCall(a)
	return nil
}

// NewToolCall builds a complete (non-delta) function tool call.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

// ToolDefinition declares a tool a pathway exposes to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolResultPayload is the envelope fed back to the model when a tool
// invocation fails before execution (argument parse or schema errors).
type ToolResultPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Result  string `json:"result,omitempty"`
}
