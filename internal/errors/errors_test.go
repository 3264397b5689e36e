package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeSlippageExceeded, "min tokens not met", WithUint(MetaRequiredMin, 100), WithUint(MetaActual, 90))
	wrapped := fmt.Errorf("buy: %w", err)

	if !stdErrors.Is(wrapped, ErrSlippageExceeded) {
		t.Fatalf("expected wrapped error to match ErrSlippageExceeded")
	}
	if stdErrors.Is(wrapped, ErrCurveExhausted) {
		t.Fatalf("unexpected match against a different code")
	}
	got, ok := From(wrapped)
	if !ok {
		t.Fatalf("From did not find *Error")
	}
	meta := got.Metadata()
	if meta[MetaRequiredMin] != "100" || meta[MetaActual] != "90" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	meta["actual"] = "0"
	if got.Metadata()[MetaActual] != "90" {
		t.Fatalf("metadata must be returned as a copy")
	}
}

func TestDomainAttributes(t *testing.T) {
	if RetryableError(New(CodeAlreadyClaimed, "")) {
		t.Fatalf("domain errors are terminal")
	}
	if !RetryableError(Wrap(CodeStorageFailure, stdErrors.New("conn reset"), "write")) {
		t.Fatalf("storage failures are retryable")
	}
	if SeverityOf(New(CodeArithmeticOverflow, "")) != SeverityCritical {
		t.Fatalf("overflow must be critical")
	}
	if AttributesOf("NOT_REGISTERED").Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("unregistered codes fall back to UNKNOWN")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
}

func TestErrorStringAndOverrides(t *testing.T) {
	err := Wrap(CodeStorageFailure, stdErrors.New("conn reset"), "write account",
		WithMetadata(MetaAddress, "Abc"), WithUint(MetaRequired, 5), WithRetryable(false))
	want := "[STORAGE_FAILURE] write account {address=Abc required=5}: conn reset"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Retryable() {
		t.Fatalf("override must win over the registered default")
	}
	if !RetryableError(Wrap(CodeStorageFailure, stdErrors.New("x"), "")) {
		t.Fatalf("override must not leak into other instances")
	}
	if New(CodeNothingToClaim, "").Message() != "nothing to claim" {
		t.Fatalf("empty message falls back to the registered description")
	}
}
