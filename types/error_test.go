package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("save message: %w", NewError(ErrPersistenceFailed, "db down"))
	if !IsErrorCode(wrapped, ErrPersistenceFailed) {
		t.Fatalf("expected wrapped code to be found")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are never retryable")
	}
	if GetErrorCode(nil) != "" {
		t.Fatalf("nil error has no code")
	}
}
