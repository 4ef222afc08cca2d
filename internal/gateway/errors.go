package gateway

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/cortexgw/cortex/internal/fault"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// apiError is the OpenAI error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonFast.NewEncoder(w).Encode(apiError{Error: apiErrorBody{
		Message: message,
		Type:    kind,
	}})
}

// writeFault maps an execution error onto an HTTP status and envelope.
func writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	errType := "internal_error"

	switch kind {
	case fault.KindInputValidation, fault.KindToolArgument, fault.KindOversizedAtom:
		status = http.StatusBadRequest
		errType = "invalid_request_error"
	case fault.KindRetryable:
		status = http.StatusServiceUnavailable
		errType = "service_unavailable"
	case fault.KindTimeout:
		status = http.StatusGatewayTimeout
		errType = "timeout"
	case fault.KindCancelled:
		// Client went away mid-request; 499 is the conventional status.
		status = 499
		errType = "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		errType = "timeout"
	}
	writeError(w, status, errType, err.Error())
}

func writeModelNotFound(w http.ResponseWriter, model string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = jsonFast.NewEncoder(w).Encode(apiError{Error: apiErrorBody{
		Message: "The model '" + model + "' does not exist",
		Type:    "invalid_request_error",
		Code:    "model_not_found",
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonFast.NewEncoder(w).Encode(v)
}
