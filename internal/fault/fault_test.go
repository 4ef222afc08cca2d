package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_WrappedChain(t *testing.T) {
	base := errors.New("socket closed")
	classified := Wrap(KindRetryable, "dispatch", base)
	wrapped := fmt.Errorf("attempt 2: %w", classified)

	if got := KindOf(wrapped); got != KindRetryable {
		t.Errorf("KindOf(wrapped) = %v, want retryable", got)
	}
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable(wrapped) = false, want true")
	}
	if !errors.Is(wrapped, base) {
		t.Error("classification must preserve the cause chain")
	}
}

func TestKindOf_ContextErrors(t *testing.T) {
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("deadline = %v, want timeout", got)
	}
	if got := KindOf(context.Canceled); got != KindCancelled {
		t.Errorf("canceled = %v, want cancelled", got)
	}
	if got := KindOf(fmt.Errorf("call: %w", context.Canceled)); got != KindCancelled {
		t.Errorf("wrapped canceled = %v, want cancelled", got)
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if Wrap(KindRetryable, "x", nil) != nil {
		t.Error("Wrap(nil) must return nil")
	}
}

func TestClassifyWire(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"429 Too Many Requests", KindRetryable},
		{"connection reset by peer", KindRetryable},
		{"upstream returned 503 service unavailable", KindRetryable},
		{"request timeout exceeded", KindRetryable},
		{"unexpected EOF", KindRetryable},
		{"invalid api key provided", KindNonRetryable},
		{"401 unauthorized", KindNonRetryable},
		{"blocked by content filter", KindNonRetryable},
		{"something odd", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ClassifyWire(errors.New(tt.msg)); got != tt.want {
				t.Errorf("ClassifyWire(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{429, KindRetryable},
		{500, KindRetryable},
		{503, KindRetryable},
		{401, KindNonRetryable},
		{400, KindNonRetryable},
		{200, KindUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestError_Message(t *testing.T) {
	e := Newf(KindOversizedAtom, "element of %d tokens exceeds budget %d", 512, 100)
	if got := e.Error(); got != "[oversized_atom] element of 512 tokens exceeds budget 100" {
		t.Errorf("Error() = %q", got)
	}
}
