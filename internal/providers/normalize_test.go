package providers

import (
	"reflect"
	"testing"

	"github.com/cortexgw/cortex/pkg/models"
)

func TestNormalizeMessageNullContent(t *testing.T) {
	idx := 0
	tests := []struct {
		name     string
		msg      models.ChatMessage
		wantKeep bool
		wantNull bool
	}{
		{
			name:     "user null content dropped",
			msg:      models.ChatMessage{Role: models.RoleUser},
			wantKeep: false,
		},
		{
			name: "assistant null with tool calls preserved",
			msg: models.ChatMessage{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{Index: &idx, ID: "call_1", Type: "function", Function: models.FunctionCall{Name: "f", Arguments: "{}"}},
				},
			},
			wantKeep: true,
			wantNull: true,
		},
		{
			name:     "assistant null without tool calls dropped",
			msg:      models.ChatMessage{Role: models.RoleAssistant},
			wantKeep: false,
		},
		{
			name:     "empty string content dropped",
			msg:      models.NewTextMessage(models.RoleUser, ""),
			wantKeep: false,
		},
		{
			name:     "empty part sequence dropped",
			msg:      models.ChatMessage{Role: models.RoleUser, Content: models.PartsContent()},
			wantKeep: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := NormalizeMessage(tt.msg)
			if keep != tt.wantKeep {
				t.Fatalf("keep = %v, want %v", keep, tt.wantKeep)
			}
			if keep && got.Content.IsNull() != tt.wantNull {
				t.Errorf("IsNull() = %v, want %v", got.Content.IsNull(), tt.wantNull)
			}
		})
	}
}

func TestNormalizeMessageStringElements(t *testing.T) {
	tests := []struct {
		name string
		elem string
		want models.ContentPart
	}{
		{
			name: "bare string becomes text part",
			elem: "hello there",
			want: models.TextPart("hello there"),
		},
		{
			name: "encoded image_url part decodes",
			elem: `{"type":"image_url","image_url":{"url":"https://img/x.png"}}`,
			want: models.ImagePart("https://img/x.png"),
		},
		{
			name: "encoded text part decodes",
			elem: `{"type":"text","text":"inner"}`,
			want: models.TextPart("inner"),
		},
		{
			name: "unrecognized type stays text verbatim",
			elem: `{"type":"thinking","thinking":"..."}`,
			want: models.TextPart(`{"type":"thinking","thinking":"..."}`),
		},
		{
			name: "malformed json stays text verbatim",
			elem: `{"type":"text"`,
			want: models.TextPart(`{"type":"text"`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := models.ChatMessage{
				Role:    models.RoleUser,
				Content: models.PartsContent(models.RawStringPart(tt.elem)),
			}
			got, keep := NormalizeMessage(msg)
			if !keep {
				t.Fatal("message dropped, want kept")
			}
			if len(got.Content.Parts) != 1 {
				t.Fatalf("parts = %d, want 1", len(got.Content.Parts))
			}
			if !reflect.DeepEqual(got.Content.Parts[0], tt.want) {
				t.Errorf("part = %+v, want %+v", got.Content.Parts[0], tt.want)
			}
		})
	}
}

func TestNormalizeMessageTypedPartsPassThrough(t *testing.T) {
	msg := models.ChatMessage{
		Role: models.RoleUser,
		Content: models.PartsContent(
			models.TextPart("look at this"),
			models.ImagePart("https://img/y.jpg"),
		),
	}
	got, keep := NormalizeMessage(msg)
	if !keep {
		t.Fatal("message dropped, want kept")
	}
	if !reflect.DeepEqual(got.Content.Parts, msg.Content.Parts) {
		t.Errorf("typed parts changed: %+v", got.Content.Parts)
	}
}

func TestNormalizeHistoryIdempotent(t *testing.T) {
	idx := 0
	history := []models.ChatMessage{
		models.NewTextMessage(models.RoleSystem, "be brief"),
		{Role: models.RoleUser, Content: models.PartsContent(
			models.RawStringPart("describe"),
			models.RawStringPart(`{"type":"image_url","image_url":{"url":"https://img/z.png"}}`),
		)},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{Index: &idx, ID: "call_1", Type: "function", Function: models.FunctionCall{Name: "f", Arguments: "{}"}},
		}},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: models.StringContent("result")},
		{Role: models.RoleUser}, // dropped
	}

	once := NormalizeHistory(history)
	twice := NormalizeHistory(once)

	if len(once) != 4 {
		t.Fatalf("normalized length = %d, want 4", len(once))
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second normalization changed the history:\n once: %+v\ntwice: %+v", once, twice)
	}
	if once[1].Content.Parts[0].Type != models.PartText {
		t.Errorf("raw string not resolved: %+v", once[1].Content.Parts[0])
	}
	if once[1].Content.Parts[1].Type != models.PartImageURL {
		t.Errorf("encoded image part not resolved: %+v", once[1].Content.Parts[1])
	}
}

func TestPartText(t *testing.T) {
	tests := []struct {
		name string
		part models.ContentPart
		want string
	}{
		{"text", models.TextPart("plain"), "plain"},
		{"image descriptor", models.ImagePart("https://img/a.png"), "[Image: https://img/a.png]"},
		{"file descriptor", models.FilePart("u", "h", "notes.txt"), "[File: notes.txt]"},
		{"raw string", models.RawStringPart("raw"), "raw"},
		{"tool result", models.ContentPart{Type: models.PartToolResult, Content: "out"}, "out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := partText(tt.part); got != tt.want {
				t.Errorf("partText() = %q, want %q", got, tt.want)
			}
		})
	}
}
