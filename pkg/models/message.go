// Package models defines the shared wire types for the Cortex gateway:
// chat messages and content parts, tool calls, normalized completion
// chunks, progress events, file records, and model/endpoint descriptors.
//
// These types mirror the OpenAI chat wire format where one exists, so the
// REST surface can serialize them without an extra mapping layer.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType tags a content part inside a message content sequence.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartImageURL   PartType = "image_url"
	PartFile       PartType = "file"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// recognizedPartTypes is the whitelist for decoding JSON-encoded string
// elements inside a content sequence. Strings tagged with anything else are
// kept as text verbatim.
var recognizedPartTypes = map[PartType]bool{
	PartText:       true,
	PartImage:      true,
	PartImageURL:   true,
	PartFile:       true,
	PartToolUse:    true,
	PartToolResult: true,
}

// RecognizedPartType reports whether t may be decoded from a JSON-encoded
// string element during normalization.
func RecognizedPartType(t PartType) bool { return recognizedPartTypes[t] }

// ImageURL is the payload of an image_url content part.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is the tagged sum of content element shapes. Exactly the
// fields matching Type are populated; everything else stays zero.
//
// A part may also hold a raw string element as it arrived on the wire
// (before normalization resolves it to a typed part). Raw parts have an
// empty Type and round-trip back to the original string.
type ContentPart struct {
	Type PartType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image_url
	ImageURL *ImageURL `json:"image_url,omitempty"`

	// file
	URL      string `json:"url,omitempty"`
	GCS      string `json:"gcs,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Filename string `json:"filename,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`

	raw   string
	isRaw bool
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// FilePart builds a file content part.
func FilePart(url, hash, filename string) ContentPart {
	return ContentPart{Type: PartFile, URL: url, Hash: hash, Filename: filename}
}

// RawStringPart wraps a bare string element exactly as it arrived in a
// content sequence. Normalization resolves it to a typed part.
func RawStringPart(s string) ContentPart {
	return ContentPart{raw: s, isRaw: true}
}

// IsRawString reports whether the part is an unresolved string element.
func (p ContentPart) IsRawString() bool { return p.isRaw }

// RawString returns the original string element for unresolved parts.
func (p ContentPart) RawString() string { return p.raw }

// UnmarshalJSON accepts either a typed object or a bare string element.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = RawStringPart(s)
		return nil
	}
	type alias ContentPart
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = ContentPart(a)
	return nil
}

// MarshalJSON re-emits unresolved string elements as strings so that a
// history round-trips unchanged until it is normalized.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	if p.isRaw {
		return json.Marshal(p.raw)
	}
	type alias ContentPart
	return json.Marshal(alias(p))
}

// RawContent is message content in one of its three wire shapes: null, a
// plain string, or a sequence of content parts. The zero value is null.
type RawContent struct {
	Str   *string
	Parts []ContentPart
}

// StringContent wraps a plain string as message content.
func StringContent(s string) RawContent { return RawContent{Str: &s} }

// PartsContent wraps a content-part sequence as message content.
func PartsContent(parts ...ContentPart) RawContent { return RawContent{Parts: parts} }

// IsNull reports whether the content is the JSON null shape.
func (c RawContent) IsNull() bool { return c.Str == nil && c.Parts == nil }

// IsString reports whether the content is the plain-string shape.
func (c RawContent) IsString() bool { return c.Str != nil }

// Flatten renders the content to plain text: strings pass through, text
// parts concatenate, and non-text parts render short descriptors. Used for
// providers whose wire format has no content-part support.
func (c RawContent) Flatten() string {
	if c.Str != nil {
		return *c.Str
	}
	var b strings.Builder
	for _, p := range c.Parts {
		switch {
		case p.isRaw:
			b.WriteString(p.raw)
		case p.Type == PartText:
			b.WriteString(p.Text)
		case p.Type == PartImageURL && p.ImageURL != nil:
			fmt.Fprintf(&b, "[Image: %s]", p.ImageURL.URL)
		case p.Type == PartImage && p.ImageURL != nil:
			fmt.Fprintf(&b, "[Image: %s]", p.ImageURL.URL)
		case p.Type == PartFile:
			fmt.Fprintf(&b, "[File: %s]", p.Filename)
		case p.Type == PartToolResult:
			b.WriteString(p.Content)
		}
	}
	return b.String()
}

// MarshalJSON emits null, a string, or the part sequence.
func (c RawContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Parts != nil:
		return json.Marshal(c.Parts)
	case c.Str != nil:
		return json.Marshal(*c.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, a string, or an array of elements.
func (c *RawContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*c = RawContent{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = RawContent{Str: &s}
		return nil
	case strings.HasPrefix(trimmed, "["):
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		if parts == nil {
			parts = []ContentPart{}
		}
		*c = RawContent{Parts: parts}
		return nil
	default:
		return fmt.Errorf("models: content must be null, string, or array, got %q", firstBytes(trimmed, 24))
	}
}

// ChatMessage is one turn in a conversation, OpenAI chat wire shape.
// Content may be null only on assistant messages that carry tool calls.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Name       string     `json:"name,omitempty"`
	Content    RawContent `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewTextMessage builds a plain string-content message.
func NewTextMessage(role Role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: StringContent(text)}
}

// ContentText flattens the message content to plain text.
func (m ChatMessage) ContentText() string { return m.Content.Flatten() }

// Clone returns a deep copy of the message.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.Content.Str != nil {
		s := *m.Content.Str
		out.Content.Str = &s
	}
	if m.Content.Parts != nil {
		out.Content.Parts = make([]ContentPart, len(m.Content.Parts))
		copy(out.Content.Parts, m.Content.Parts)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}

// CloneHistory deep-copies a chat history slice.
func CloneHistory(history []ChatMessage) []ChatMessage {
	if history == nil {
		return nil
	}
	out := make([]ChatMessage, len(history))
	for i, m := range history {
		out[i] = m.Clone()
	}
	return out
}

func firstBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
