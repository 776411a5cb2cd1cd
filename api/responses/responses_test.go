package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
	"github.com/campushub/campushub-backend/pkg/types"
)

func TestWriteSuccessWrapsDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok || data["hello"] != "world" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestWriteErrorMapsTypedCodes(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "event not found"), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", pkgerrors.New(pkgerrors.CodeConflict, "duplicate"), http.StatusConflict, "CONFLICT"},
		{"state conflict", pkgerrors.New(pkgerrors.CodeStateConflict, "full"), http.StatusUnprocessableEntity, "STATE_CONFLICT"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(context.Background(), nil, rec, tc.err)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			var envelope types.ErrorEnvelope
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if envelope.Error.Code != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, envelope.Error.Code)
			}
		})
	}
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeInternal, "password hash parameters leaked"))

	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Message != "internal server error" {
		t.Fatalf("internal errors must use the public message, got %q", envelope.Error.Message)
	}
}
