package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewOperationErrorMessage(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("repository.save", "req-1", base)
	if got, want := err.Error(), "repository.save (request_id=req-1): boom"; got != want {
		t.Fatalf("unexpected message: %q, want %q", got, want)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}

	err = NewOperationError("repository.save", "", base)
	if got, want := err.Error(), "repository.save: boom"; got != want {
		t.Fatalf("unexpected message: %q, want %q", got, want)
	}
}

func TestNewOperationErrorDoesNotDoubleWrap(t *testing.T) {
	inner := NewOperationError("cache.get", "req", errors.New("boom"))

	if again := NewOperationError("cache.get", "req", inner); again != inner {
		t.Fatalf("expected same error back, got %v", again)
	}
	outer := NewOperationError("usecase.match", "req", inner)
	if OperationOf(outer) != "usecase.match" {
		t.Fatalf("unexpected outer operation: %s", OperationOf(outer))
	}
}

func TestOperationOfPlainError(t *testing.T) {
	if op := OperationOf(errors.New("plain")); op != "" {
		t.Fatalf("expected empty operation, got %q", op)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	if err != nil {
		t.Fatalf("expected logger, got error: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}

	if _, err := NewLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
