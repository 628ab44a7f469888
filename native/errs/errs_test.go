package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKindAndSentinel(t *testing.T) {
	wrapped := fmt.Errorf("deposit: %w", ErrInvalidAmount)
	if !errors.Is(wrapped, ErrValidation) {
		t.Fatalf("expected validation kind")
	}
	if !errors.Is(wrapped, ErrInvalidAmount) {
		t.Fatalf("expected sentinel match")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("unexpected kind match")
	}
	if Reason(wrapped) != "invalid amount" {
		t.Fatalf("unexpected reason %q", Reason(wrapped))
	}
	if KindOf(wrapped) != ErrValidation {
		t.Fatalf("unexpected kind %v", KindOf(wrapped))
	}
}

func TestReasonOfPlainError(t *testing.T) {
	plain := errors.New("boom")
	if Reason(plain) != "boom" {
		t.Fatalf("unexpected reason %q", Reason(plain))
	}
	if KindOf(plain) != nil {
		t.Fatalf("plain errors carry no kind")
	}
	if Reason(nil) != "" {
		t.Fatalf("nil error has empty reason")
	}
}
