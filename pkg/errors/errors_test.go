package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
	if err.Partial {
		t.Fatal("wrapped errors must not claim partial effects")
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	custom := ErrNotFound.WithMessage("chat not found")
	wrapped := fmt.Errorf("load chat: %w", custom)

	if !stdErrors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected copies of ErrNotFound to match the sentinel")
	}
	if stdErrors.Is(wrapped, ErrForbidden) {
		t.Fatal("did not expect a not found error to match forbidden")
	}
	if !stdErrors.Is(ErrDuplicateRequest.WithInternal(stdErrors.New("unique")), ErrDuplicateRequest) {
		t.Fatal("expected duplicate request copies to match")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("food post")
	if err.Message != "food post not found" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrNotFound.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}
