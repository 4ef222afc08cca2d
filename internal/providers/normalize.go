package providers

import (
	"encoding/json"
	"strings"

	"github.com/cortexgw/cortex/pkg/models"
)

// NormalizeHistory applies message-content normalization to a chat history
// before outbound encoding. The operation is idempotent: normalizing an
// already-normalized history returns an equal history.
//
// Rules:
//   - null content survives only on assistant messages carrying tool
//     calls; elsewhere it is coerced to the empty string;
//   - string content stays a string;
//   - every element of a content sequence becomes a typed part. Bare
//     strings become text parts, except strings that are JSON encodings of
//     a recognized part type, which decode to that part. JSON strings of
//     unrecognized types stay text parts holding the original string;
//   - messages left with no content and no tool calls are dropped.
//
// Stringified tool_calls elements are already parsed to objects at decode
// time by models.ToolCall, so no pass is needed here.
func NormalizeHistory(history []models.ChatMessage) []models.ChatMessage {
	if history == nil {
		return nil
	}
	out := make([]models.ChatMessage, 0, len(history))
	for _, m := range history {
		nm, keep := NormalizeMessage(m)
		if keep {
			out = append(out, nm)
		}
	}
	return out
}

// NormalizeMessage normalizes one message. The second return is false when
// the message normalizes to nothing and must be dropped.
func NormalizeMessage(m models.ChatMessage) (models.ChatMessage, bool) {
	switch {
	case m.Content.IsNull():
		if m.Role == models.RoleAssistant && len(m.ToolCalls) > 0 {
			return m, true
		}
		m.Content = models.StringContent("")
	case m.Content.IsString():
		// Strings pass through untouched.
	default:
		parts := make([]models.ContentPart, 0, len(m.Content.Parts))
		for _, p := range m.Content.Parts {
			parts = append(parts, resolvePart(p))
		}
		m.Content = models.RawContent{Parts: parts}
	}
	if emptyContent(m.Content) && len(m.ToolCalls) == 0 {
		return models.ChatMessage{}, false
	}
	return m, true
}

// resolvePart turns a raw string element into a typed part. Typed parts
// pass through unchanged.
func resolvePart(p models.ContentPart) models.ContentPart {
	if !p.IsRawString() {
		return p
	}
	s := p.RawString()
	if decoded, ok := decodeTypedElement(s); ok {
		return decoded
	}
	return models.TextPart(s)
}

// decodeTypedElement tries to decode a string element as the JSON encoding
// of a recognized content part. Anything else, including JSON objects of
// unrecognized types, is rejected so the caller keeps the string verbatim.
func decodeTypedElement(s string) (models.ContentPart, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return models.ContentPart{}, false
	}
	var probe struct {
		Type models.PartType `json:"type"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return models.ContentPart{}, false
	}
	if !models.RecognizedPartType(probe.Type) {
		return models.ContentPart{}, false
	}
	var part models.ContentPart
	if err := json.Unmarshal([]byte(trimmed), &part); err != nil {
		return models.ContentPart{}, false
	}
	return part, true
}

func emptyContent(c models.RawContent) bool {
	switch {
	case c.IsNull():
		return true
	case c.IsString():
		return *c.Str == ""
	default:
		return len(c.Parts) == 0
	}
}

// partText extracts the text of a part for dialects without content-part
// support: text passes through, non-text parts render short descriptors.
func partText(p models.ContentPart) string {
	switch {
	case p.IsRawString():
		return p.RawString()
	case p.Type == models.PartText:
		return p.Text
	case p.Type == models.PartImageURL, p.Type == models.PartImage:
		if url := partImageURL(p); url != "" {
			return "[Image: " + url + "]"
		}
		return ""
	case p.Type == models.PartFile:
		return "[File: " + p.Filename + "]"
	case p.Type == models.PartToolResult:
		return p.Content
	default:
		return ""
	}
}

// partImageURL extracts the image location from either image part shape:
// image_url carries a nested object, image carries a bare url field.
func partImageURL(p models.ContentPart) string {
	if p.ImageURL != nil {
		return p.ImageURL.URL
	}
	return p.URL
}
