package corerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatsWithAndWithoutStage(t *testing.T) {
	e := New("E_FOO", "something broke")
	if got := e.Error(); got != "E_FOO: something broke" {
		t.Fatalf("unexpected message: %q", got)
	}

	staged := e.WithStage("Preprocess")
	if got := staged.Error(); got != "Preprocess[E_FOO]: something broke" {
		t.Fatalf("unexpected staged message: %q", got)
	}
}

func TestWrapUnwrapsToCause(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap("E_WRAP", "wrapped", cause)

	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestCodeOfFindsCodeThroughWrapChain(t *testing.T) {
	inner := New("E_INNER", "inner failure")
	outer := fmt.Errorf("outer context: %w", inner)

	if got := CodeOf(outer, "E_FALLBACK"); got != "E_INNER" {
		t.Fatalf("unexpected code: %q", got)
	}
}

func TestCodeOfFallsBackForPlainError(t *testing.T) {
	if got := CodeOf(errors.New("plain"), "E_FALLBACK"); got != "E_FALLBACK" {
		t.Fatalf("unexpected code: %q", got)
	}
}

func TestCodeOfFallsBackForNilError(t *testing.T) {
	if got := CodeOf(nil, "E_FALLBACK"); got != "E_FALLBACK" {
		t.Fatalf("unexpected code: %q", got)
	}
}

func TestWithStageOnNilReceiverIsNil(t *testing.T) {
	var e *Error
	if got := e.WithStage("X"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
