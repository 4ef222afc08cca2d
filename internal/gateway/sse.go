package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cortexgw/cortex/internal/executor"
	"github.com/cortexgw/cortex/pkg/models"
)

// chunkTranslator reshapes a normalized chat.completion.chunk payload for
// an endpoint's wire dialect. A false return drops the frame.
type chunkTranslator func(data, model string) (string, bool)

// streamCompletion runs the request under the connection's context and
// relays its chunk stream from the progress bus as server-sent events,
// closing with `data: [DONE]`. A client disconnect cancels the run.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, run executor.RunRequest, model string, translate chunkTranslator) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported by this connection")
		return
	}

	run.Stream = true

	// Subscribe before admission so no chunk is lost.
	events, cancel := s.bus.Subscribe(run.RequestID)
	defer cancel()

	// Terminal outcomes arrive on the bus, so the return value is
	// only logged. Tying the run to r.Context keeps a disconnected
	// client from burning provider tokens.
	go func() {
		if _, err := s.exec.Run(r.Context(), run); err != nil && s.logger != nil {
			s.logger.Warn(r.Context(), "streaming request ended with error",
				"request_id", run.RequestID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				writeSSE(w, flusher, "[DONE]")
				return
			}
			if ev.Terminal() {
				if msg, failed := failureInfo(ev); failed {
					frame, _ := jsonFast.MarshalToString(apiError{Error: apiErrorBody{
						Message: msg,
						Type:    "internal_error",
					}})
					writeSSE(w, flusher, frame)
				}
				writeSSE(w, flusher, "[DONE]")
				return
			}
			if ev.Data == "" {
				continue
			}
			if frame, keep := translate(ev.Data, model); keep {
				writeSSE(w, flusher, frame)
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// failureInfo reports whether a terminal event carries an error, and the
// decoded message if so.
func failureInfo(ev models.ProgressEvent) (string, bool) {
	if ev.Info == "" {
		return "", false
	}
	var info string
	if err := jsonFast.UnmarshalFromString(ev.Info, &info); err != nil {
		info = ev.Info
	}
	if strings.HasPrefix(info, "ERROR:") {
		return strings.TrimSpace(strings.TrimPrefix(info, "ERROR:")), true
	}
	return "", false
}

// forwardChatChunk passes normalized chunks through untouched.
func forwardChatChunk(data, _ string) (string, bool) { return data, true }

// legacyChunk is the streaming frame of the legacy completion endpoint.
type legacyChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []legacyChunkChoice `json:"choices"`
}

type legacyChunkChoice struct {
	Text         string               `json:"text"`
	Index        int                  `json:"index"`
	FinishReason *models.FinishReason `json:"finish_reason"`
}

// forwardLegacyChunk reshapes a chat chunk into the text_completion
// streaming frame. Frames with neither content nor a finish reason drop.
func forwardLegacyChunk(data, model string) (string, bool) {
	var chunk models.ChatCompletionChunk
	if err := jsonFast.UnmarshalFromString(data, &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content == "" && choice.FinishReason == nil {
		return "", false
	}
	out := legacyChunk{
		ID:      chunk.ID,
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []legacyChunkChoice{{Text: choice.Delta.Content, FinishReason: choice.FinishReason}},
	}
	frame, err := jsonFast.MarshalToString(out)
	if err != nil {
		return "", false
	}
	return frame, true
}
