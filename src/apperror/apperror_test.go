package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := E(KindNotFound, "order 7 not found")

	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors must have no kind")
	}
	if KindOf(nil) != "" {
		t.Fatal("nil error must have no kind")
	}
}

func TestIsKindThroughWrapping(t *testing.T) {
	cause := E(KindConnectionError, "dial failed")
	wrapped := fmt.Errorf("submitting order: %w", cause)

	if !IsKind(wrapped, KindConnectionError) {
		t.Fatal("kind must survive fmt.Errorf wrapping")
	}
	if IsKind(wrapped, KindRiskRejected) {
		t.Fatal("wrong kind must not match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("tcp reset")
	err := Wrap(KindConnectionError, "exchange unreachable", cause)

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if err.Error() == cause.Error() {
		t.Fatal("message must include the context, not just the cause")
	}
}

func TestWithViolations(t *testing.T) {
	err := WithViolations(KindInvalidRequest, "order validation failed",
		[]string{"amount must be positive", "symbol is required"})

	if len(err.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(err.Violations))
	}
	if !IsKind(err, KindInvalidRequest) {
		t.Fatalf("expected invalid_request, got %s", KindOf(err))
	}
}
