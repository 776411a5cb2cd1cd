package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "broker unavailable")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be findable with errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
	if err.Error() != "DEPENDENCY_ERROR: broker unavailable" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestAsThroughChain(t *testing.T) {
	inner := New(CodeNotFound, "event missing")
	outer := fmt.Errorf("loading event: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatalf("expected typed error through fmt.Errorf wrap")
	}
	if typed.Code() != CodeNotFound {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NO_SUCH_CODE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", meta.HTTPStatus)
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeConflict, stdErrors.New("duplicate key value violates unique constraint"), "already registered")
	dump := Dump(err)

	if dump.Code != CodeConflict {
		t.Fatalf("unexpected code %s", dump.Code)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected 2 chain entries, got %d", len(dump.Chain))
	}
}

func TestNilErrorAccessors(t *testing.T) {
	var err *Error
	if err.Code() != CodeInternal {
		t.Fatalf("nil error should report internal code")
	}
	if err.Error() != "" {
		t.Fatalf("nil error should render empty string")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should be nil")
	}
}
