package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexgw/cortex/pkg/models"
)

func TestIsAzureEndpoint(t *testing.T) {
	tests := []struct {
		name string
		ep   models.Endpoint
		want bool
	}{
		{"apiType param", models.Endpoint{URL: "https://gw.internal", Params: map[string]any{"apiType": "azure"}}, true},
		{"apiType case insensitive", models.Endpoint{Params: map[string]any{"apiType": "Azure"}}, true},
		{"azure host", models.Endpoint{URL: "https://myorg.openai.azure.com"}, true},
		{"plain gateway", models.Endpoint{URL: "https://gw.internal/v1"}, false},
		{"empty", models.Endpoint{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAzureEndpoint(tt.ep); got != tt.want {
				t.Errorf("isAzureEndpoint(%+v) = %v, want %v", tt.ep, got, tt.want)
			}
		})
	}
}

func TestCompatibleAzureWire(t *testing.T) {
	// Azure routes through deployments/<model> and authenticates with
	// api-key instead of a bearer token.
	var gotPath, gotAPIKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("api-key")
		gotVersion = r.URL.Query().Get("api-version")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	req := newTestRequest("gpt-4o", srv.URL, rec)
	req.Endpoint.Params = map[string]any{"apiType": "azure", "apiVersion": "2024-06-01"}

	p := NewCompatible(nil)
	if _, err := p.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if gotAPIKey != "test-key" {
		t.Errorf("api-key header = %q, want test-key", gotAPIKey)
	}
	if gotVersion != "2024-06-01" {
		t.Errorf("api-version = %q, want 2024-06-01", gotVersion)
	}
	if want := "/openai/deployments/gpt-4o/chat/completions"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
}

func TestCompatiblePlainGateway(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewCompatible(nil)
	res, err := p.Execute(context.Background(), newTestRequest("m", srv.URL, &chunkRecorder{}))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q, want ok", res.Text)
	}
	requireFinish(t, res, models.FinishStop)
}

func TestLocalPlugin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"local-m","choices":[{"index":0,"delta":{"role":"assistant","content":"echo"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewLocal()
	if p.Family() != models.FamilyLocal {
		t.Errorf("Family() = %v, want local", p.Family())
	}
	res, err := p.Execute(context.Background(), newTestRequest("local-m", srv.URL, &chunkRecorder{}))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Text != "echo" {
		t.Errorf("Text = %q, want echo", res.Text)
	}
}

func TestDefaultRegistryCoversAllFamilies(t *testing.T) {
	r := NewDefaultRegistry(nil)
	families := []models.ProviderFamily{
		models.FamilyOpenAIChat,
		models.FamilyOpenAICompletion,
		models.FamilyOpenAIVision,
		models.FamilyOpenAIReasoning,
		models.FamilyAnthropic,
		models.FamilyBedrock,
		models.FamilyGeminiChat,
		models.FamilyGeminiVision,
		models.FamilyGrok,
		models.FamilyOpenAICompatible,
		models.FamilyLocal,
	}
	for _, f := range families {
		p, err := r.For(f)
		if err != nil {
			t.Errorf("For(%s) error: %v", f, err)
			continue
		}
		if p.Family() != f {
			t.Errorf("For(%s) returned plugin for %s", f, p.Family())
		}
	}
	if _, err := r.For("no-such-family"); err == nil {
		t.Error("For(unknown) returned nil error")
	}
}
