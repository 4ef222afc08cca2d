package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/genai"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

func geminiStreamServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\r\n\r\n", f)
			flusher.Flush()
		}
	}))
}

func TestGeminiStreaming(t *testing.T) {
	frames := []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Gem"}]},"index":0}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":1}}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"ini"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2}}`,
	}
	srv := geminiStreamServer(t, frames)
	defer srv.Close()

	rec := &chunkRecorder{}
	p := NewGemini(models.FamilyGeminiChat)
	res, err := p.Execute(context.Background(), newTestRequest("gemini-test", srv.URL, rec))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Text != "Gemini" {
		t.Errorf("Text = %q, want Gemini", res.Text)
	}
	requireFinish(t, res, models.FinishStop)
	if res.Usage == nil || res.Usage.PromptTokens != 5 || res.Usage.CompletionTokens != 2 {
		t.Errorf("Usage = %+v, want 5/2", res.Usage)
	}
	if rec.terminals() != 1 {
		t.Errorf("terminal chunks = %d, want 1", rec.terminals())
	}
}

func TestGeminiFunctionCallStream(t *testing.T) {
	// Function calls arrive atomic; the reported STOP must surface as
	// tool_calls.
	frames := []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":4}}`,
	}
	srv := geminiStreamServer(t, frames)
	defer srv.Close()

	p := NewGemini(models.FamilyGeminiChat)
	res, err := p.Execute(context.Background(), newTestRequest("gemini-test", srv.URL, &chunkRecorder{}))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.Function.Name != "get_weather" {
		t.Errorf("name = %q, want get_weather", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"city":"Paris"}` {
		t.Errorf("arguments = %q, want %q", tc.Function.Arguments, `{"city":"Paris"}`)
	}
	if tc.ID == "" {
		t.Error("synthetic call id missing")
	}
	requireFinish(t, res, models.FinishToolCalls)
}

func TestGeminiErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind fault.Kind
	}{
		{
			name:     "quota exhausted",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			wantKind: fault.KindRetryable,
		},
		{
			name:     "invalid argument",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":400,"message":"Invalid JSON payload","status":"INVALID_ARGUMENT"}}`,
			wantKind: fault.KindNonRetryable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := NewGemini(models.FamilyGeminiChat)
			_, err := p.Execute(context.Background(), newTestRequest("gemini-test", srv.URL, &chunkRecorder{}))
			if err == nil {
				t.Fatal("Execute() returned nil error")
			}
			if got := fault.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %v, want %v (err: %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestGeminiBuildContents(t *testing.T) {
	idx := 0
	history := []models.ChatMessage{
		models.NewTextMessage(models.RoleSystem, "elsewhere"),
		models.NewTextMessage(models.RoleUser, "weather?"),
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{Index: &idx, ID: "call_1", Type: "function", Function: models.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`}},
		}},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: models.StringContent(`{"temp":21}`)},
		{Role: models.RoleTool, ToolCallID: "call_1", Content: models.StringContent("plain words")},
	}

	p := NewGemini(models.FamilyGeminiChat)
	contents := p.buildContents(history)

	if len(contents) != 4 {
		t.Fatalf("contents = %d, want 4 (system excluded)", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[0].Parts[0].Text != "weather?" {
		t.Errorf("turn 0 = %+v", contents[0])
	}
	if contents[1].Role != genai.RoleModel || contents[1].Parts[0].FunctionCall == nil {
		t.Fatalf("turn 1 = %+v, want model turn with functionCall", contents[1])
	}
	if got := contents[1].Parts[0].FunctionCall.Args["city"]; got != "Paris" {
		t.Errorf("functionCall args = %v", contents[1].Parts[0].FunctionCall.Args)
	}

	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "get_weather" {
		t.Fatalf("turn 2 = %+v, want functionResponse named get_weather", contents[2])
	}
	if got := fr.Response["temp"]; got != float64(21) {
		t.Errorf("structured tool result = %v, want parsed JSON", fr.Response)
	}

	// Non-JSON results wrap under a result key.
	fr = contents[3].Parts[0].FunctionResponse
	if got := fr.Response["result"]; got != "plain words" {
		t.Errorf("plain tool result = %v, want wrapped string", fr.Response)
	}
}

func TestGeminiImageHandlingByFamily(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: models.PartsContent(
			models.TextPart("what is this?"),
			models.ImagePart("data:image/png;base64,aGk="),
		)},
	}

	vision := NewGemini(models.FamilyGeminiVision).buildContents(history)
	if len(vision[0].Parts) != 2 {
		t.Fatalf("vision parts = %d, want 2", len(vision[0].Parts))
	}
	blob := vision[0].Parts[1].InlineData
	if blob == nil || blob.MIMEType != "image/png" || string(blob.Data) != "hi" {
		t.Errorf("vision image part = %+v, want decoded inline blob", vision[0].Parts[1])
	}

	chat := NewGemini(models.FamilyGeminiChat).buildContents(history)
	if len(chat[0].Parts) != 2 {
		t.Fatalf("chat parts = %d, want 2", len(chat[0].Parts))
	}
	if got := chat[0].Parts[1].Text; got != "[Image: data:image/png;base64,aGk=]" {
		t.Errorf("chat image descriptor = %q", got)
	}
}

func TestGeminiImagePartRemoteURL(t *testing.T) {
	part := geminiImagePart("https://img.example/photo.webp")
	if part == nil || part.FileData == nil {
		t.Fatal("remote image did not map to fileData")
	}
	if part.FileData.FileURI != "https://img.example/photo.webp" || part.FileData.MIMEType != "image/webp" {
		t.Errorf("fileData = %+v", part.FileData)
	}
}

func TestToGeminiSchema(t *testing.T) {
	schema := toGeminiSchema(map[string]any{
		"type":        "object",
		"description": "query",
		"required":    []any{"city"},
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "enum": []any{"Paris", "London"}},
			"days": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		},
	})

	if schema.Type != genai.TypeObject {
		t.Errorf("Type = %v, want OBJECT", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "city" {
		t.Errorf("Required = %v", schema.Required)
	}
	city := schema.Properties["city"]
	if city == nil || city.Type != genai.TypeString || len(city.Enum) != 2 {
		t.Errorf("city schema = %+v", city)
	}
	days := schema.Properties["days"]
	if days == nil || days.Items == nil || days.Items.Type != genai.TypeInteger {
		t.Errorf("days schema = %+v", days)
	}
}

func TestToolNameForCall(t *testing.T) {
	idx := 0
	history := []models.ChatMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{Index: &idx, ID: "call_abc", Type: "function", Function: models.FunctionCall{Name: "lookup", Arguments: "{}"}},
		}},
	}
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"found in history", "call_abc", "lookup"},
		{"synthetic id", "call_get_weather_1712345", "get_weather"},
		{"opaque id", "xyz", "xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolNameForCall(tt.id, history); got != tt.want {
				t.Errorf("toolNameForCall(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestGeminiFinish(t *testing.T) {
	tests := []struct {
		in   string
		want models.FinishReason
	}{
		{"STOP", models.FinishStop},
		{"MAX_TOKENS", models.FinishLength},
		{"SAFETY", models.FinishContentFilter},
		{"RECITATION", models.FinishContentFilter},
		{"BLOCKLIST", models.FinishContentFilter},
		{"PROHIBITED_CONTENT", models.FinishContentFilter},
		{"SPII", models.FinishContentFilter},
		{"OTHER", models.FinishStop},
	}
	for _, tt := range tests {
		if got := geminiFinish(tt.in); got != tt.want {
			t.Errorf("geminiFinish(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
