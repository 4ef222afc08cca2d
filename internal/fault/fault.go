// Package fault defines the error-kind taxonomy used as result values
// across the gateway. Every failure crossing a component boundary is
// classified into a Kind so the executor can decide between retrying,
// feeding the error back to the model, substituting a fallback, or
// surfacing it.
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure for control-flow decisions.
type Kind string

const (
	// KindInputValidation marks missing or malformed caller input.
	KindInputValidation Kind = "input_validation"

	// KindRetryable marks transient wire failures: connection resets,
	// 429s, 5xx responses, vendor rate limiting, a stream reset before
	// the first byte.
	KindRetryable Kind = "retryable"

	// KindNonRetryable marks schema rejections, authentication failures,
	// and content-filter refusals.
	KindNonRetryable Kind = "non_retryable"

	// KindToolArgument marks tool-call arguments that failed JSON parse or
	// schema validation; surfaced to the model, never fatal.
	KindToolArgument Kind = "tool_argument"

	// KindOversizedAtom marks an HTML element larger than the chunk budget.
	KindOversizedAtom Kind = "oversized_atom"

	// KindCompressionFallback marks a failed compression step that was
	// substituted with the stub summary.
	KindCompressionFallback Kind = "compression_fallback"

	// KindTimeout marks expiry of the request deadline.
	KindTimeout Kind = "timeout"

	// KindCancelled marks caller-initiated termination.
	KindCancelled Kind = "cancelled"

	// KindUnknown is the zero classification.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether the kind permits another attempt.
func (k Kind) Retryable() bool { return k == KindRetryable }

// Error is a classified failure. It wraps the underlying cause so
// errors.Is/As keep working through the taxonomy.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from anywhere in the chain. Context errors map
// to their kinds; unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether the error chain carries a retryable kind.
func IsRetryable(err error) bool { return KindOf(err) == KindRetryable }

// IsTerminalKind reports whether the chain was caller- or deadline-ended.
func IsTerminalKind(err error) bool {
	k := KindOf(err)
	return k == KindTimeout || k == KindCancelled
}

// ClassifyWire inspects a transport-level error by message and classifies
// it for retry purposes. Providers call this when their SDK does not
// expose structured status codes.
func ClassifyWire(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "throttl"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily"):
		return KindRetryable
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "content_filter"),
		strings.Contains(msg, "content filter"),
		strings.Contains(msg, "invalid_request_error"),
		strings.Contains(msg, "400"):
		return KindNonRetryable
	default:
		return KindUnknown
	}
}

// ClassifyStatus maps an HTTP status code to a kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRetryable
	case status >= 500:
		return KindRetryable
	case status == 401 || status == 403:
		return KindNonRetryable
	case status >= 400:
		return KindNonRetryable
	default:
		return KindUnknown
	}
}
