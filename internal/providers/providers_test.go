package providers

import (
	"testing"
	"time"

	"github.com/cortexgw/cortex/pkg/models"
)

// chunkRecorder collects emitted chunks in arrival order.
type chunkRecorder struct {
	chunks []*models.ChatCompletionChunk
}

func (r *chunkRecorder) emit(c *models.ChatCompletionChunk) {
	r.chunks = append(r.chunks, c)
}

// text concatenates the content deltas of choice 0.
func (r *chunkRecorder) text() string {
	var out string
	for _, c := range r.chunks {
		for _, ch := range c.Choices {
			if ch.Index == 0 {
				out += ch.Delta.Content
			}
		}
	}
	return out
}

// terminals counts chunks carrying a finish reason.
func (r *chunkRecorder) terminals() int {
	n := 0
	for _, c := range r.chunks {
		if c.FinishedReason() != nil {
			n++
		}
	}
	return n
}

// newTestRequest builds a streaming request against the given endpoint
// URL with the recorder as sink.
func newTestRequest(modelName, url string, rec *chunkRecorder) *Request {
	req := &Request{
		RequestID: "req-test",
		Model: models.Model{
			Name:              modelName,
			Endpoints:         []models.Endpoint{{Name: "primary", URL: url, APIKey: "test-key"}},
			MaxTokenLength:    8192,
			MaxReturnTokens:   1024,
			SupportsStreaming: true,
		},
		Endpoint: models.Endpoint{Name: "primary", URL: url, APIKey: "test-key"},
		Messages: []models.ChatMessage{models.NewTextMessage(models.RoleUser, "hello")},
		Stream:    true,
		Timeout:   30 * time.Second,
	}
	if rec != nil {
		req.Emit = rec.emit
	}
	return req
}

func fptr(v float64) *float64 { return &v }

func requireFinish(t *testing.T, res *Result, want models.FinishReason) {
	t.Helper()
	if res.FinishReason != want {
		t.Errorf("FinishReason = %q, want %q", res.FinishReason, want)
	}
}
