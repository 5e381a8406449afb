package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(CodeStateConflict, "transition disallowed")

	if err.Code() != CodeStateConflict {
		t.Fatalf("expected code %q, got %q", CodeStateConflict, err.Code())
	}
	if err.Message() != "transition disallowed" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Error() != "STATE_CONFLICT: transition disallowed" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "calling processor")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected dependency code, got %q", err.Code())
	}
}

func TestAsUnwrapsThroughFmtErrors(t *testing.T) {
	inner := New(CodeValidation, "bad input")
	wrapped := fmt.Errorf("handler: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatalf("expected typed error from chain")
	}
	if typed.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %q", typed.Code())
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeStateConflict, "loser of the race")
	if !IsCode(err, CodeStateConflict) {
		t.Fatalf("expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("did not expect IsCode to match other codes")
	}
	if IsCode(nil, CodeStateConflict) {
		t.Fatalf("nil error should not match any code")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestStateConflictMapsToHTTPConflict(t *testing.T) {
	meta := MetadataFor(CodeStateConflict)
	if meta.HTTPStatus != http.StatusConflict {
		t.Fatalf("expected 409 for state conflicts, got %d", meta.HTTPStatus)
	}
	if meta.Retryable {
		t.Fatalf("state conflicts are not retryable")
	}
}
