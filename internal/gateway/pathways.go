package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cortexgw/cortex/internal/executor"
)

// runRequestFields are the reserved body keys of the pathway endpoint;
// everything else is a pathway parameter.
var runRequestFields = map[string]bool{
	"pathway":      true,
	"args":         true,
	"text":         true,
	"chatHistory":  true,
	"contextId":    true,
	"agentContext": true,
	"chatId":       true,
	"tools":        true,
	"stream":       true,
	"async":        true,
	"requestId":    true,
}

// handlePathway is the typed query surface: POST /v1/pathways/<name> with
// a JSON body of common fields plus the pathway's declared parameters.
func (s *Server) handlePathway(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/pathways/"), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "invalid_request_error", "pathway name missing")
		return
	}

	var raw map[string]json.RawMessage
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
			return
		}
	}

	run, err := decodeRunRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	run.Pathway = name

	resp, err := s.exec.Run(r.Context(), run)
	if err != nil {
		writeFault(w, err)
		return
	}
	status := http.StatusOK
	if run.Async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// decodeRunRequest splits a flat JSON body into the reserved run fields
// and the free-form pathway arguments.
func decodeRunRequest(raw map[string]json.RawMessage) (executor.RunRequest, error) {
	var run executor.RunRequest
	if len(raw) == 0 {
		return run, nil
	}

	flat, err := json.Marshal(raw)
	if err != nil {
		return run, err
	}
	if err := json.Unmarshal(flat, &run); err != nil {
		return run, err
	}

	for key, value := range raw {
		if runRequestFields[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return run, err
		}
		if run.Args == nil {
			run.Args = make(map[string]any)
		}
		if _, declared := run.Args[key]; !declared {
			run.Args[key] = v
		}
	}
	return run, nil
}
