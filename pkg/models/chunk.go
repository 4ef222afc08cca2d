package models

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// FinishReason is the normalized terminal status of a streamed completion.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishFunctionCall  FinishReason = "function_call"
	FinishContentFilter FinishReason = "content_filter"
)

// Ptr returns a pointer to the reason, for chunk choice fields where null
// means "not finished".
func (f FinishReason) Ptr() *FinishReason { return &f }

// ChunkObject is the OpenAI object tag every normalized chunk carries.
const ChunkObject = "chat.completion.chunk"

// Citation is a source reference surfaced by search-capable providers.
// Citations accumulate out-of-band on the final result and are also
// announced inline as markdown on first appearance.
type Citation struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ChunkDelta is the incremental payload of one chunk choice.
type ChunkDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// ChunkChoice is one choice of a streaming chunk. FinishReason stays null
// until the terminal chunk.
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        ChunkDelta    `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason"`
}

// ChatCompletionChunk is the normalized streaming event every provider
// dialect translates into: the OpenAI chat.completion.chunk shape.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// Usage is the token accounting attached to terminal chunks when known.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewChunkID returns a fresh chunk stream id in the OpenAI style.
func NewChunkID() string {
	return "chatcmpl-" + uuid.NewString()
}

// NewChunk builds a single-choice chunk carrying the given delta.
func NewChunk(id, model string, delta ChunkDelta) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      id,
		Object:  ChunkObject,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: nil}},
	}
}

// NewTerminalChunk builds the final chunk of a stream with an empty delta
// and the given finish reason.
func NewTerminalChunk(id, model string, reason FinishReason) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      id,
		Object:  ChunkObject,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{Index: 0, Delta: ChunkDelta{}, FinishReason: reason.Ptr()}},
	}
}

// FinishedReason returns the finish reason if any choice carries one.
func (c *ChatCompletionChunk) FinishedReason() *FinishReason {
	for i := range c.Choices {
		if c.Choices[i].FinishReason != nil {
			return c.Choices[i].FinishReason
		}
	}
	return nil
}

// JSON serializes the chunk for the SSE wire and bus payloads.
func (c *ChatCompletionChunk) JSON() ([]byte, error) {
	return jsonFast.Marshal(c)
}
