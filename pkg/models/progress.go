package models

// ProgressEvent is one update on the progress bus for a running request.
// Progress is monotonically non-decreasing on [0,1]; the terminal event has
// Progress == 1. Data and Info, when present, are JSON-encoded strings.
type ProgressEvent struct {
	RequestID string  `json:"requestId"`
	Progress  float64 `json:"progress"`
	Data      string  `json:"data,omitempty"`
	Info      string  `json:"info,omitempty"`
}

// Terminal reports whether the event closes the request's stream.
func (e ProgressEvent) Terminal() bool { return e.Progress >= 1 }

// Encode serializes the event for subscription transports.
func (e ProgressEvent) Encode() ([]byte, error) {
	return jsonFast.Marshal(e)
}

// RequestState is the lifecycle state of a gateway request.
type RequestState string

const (
	StateRunning   RequestState = "running"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
	StateCancelled RequestState = "cancelled"
)
