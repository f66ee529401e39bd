package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"folio/pkg/folio"
)

func TestWriteSuccess(t *testing.T) {
	rr := httptest.NewRecorder()
	writeSuccess(rr, map[string]string{"ok": "yes"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != 0 {
		t.Fatalf("expected code 0, got %d", resp.Code)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["ok"] != "yes" {
		t.Fatalf("unexpected data payload: %v", resp.Data)
	}
}

func TestWriteCreatedAndMessage(t *testing.T) {
	rr := httptest.NewRecorder()
	writeCreated(rr, map[string]int{"id": 7})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	writeSuccessWithMessage(rr, "deleted", nil)
	var resp Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "deleted" || resp.Data != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestWriteErrorResponse(t *testing.T) {
	t.Run("structured error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		writeErrorResponse(rr, nil, http.StatusInternalServerError, folio.NewError(folio.ErrCodeNotFound, "asset not found"))

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.ErrorCode != string(folio.ErrCodeNotFound) || resp.Code != http.StatusNotFound {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("wrapped structured error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		err := fmt.Errorf("import: %w", folio.NewError(folio.ErrCodeDuplicate, "exists"))
		writeErrorResponse(rr, nil, http.StatusInternalServerError, err)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("plain error keeps fallback", func(t *testing.T) {
		rr := httptest.NewRecorder()
		writeErrorResponse(rr, nil, http.StatusBadRequest, errors.New("bad input"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("request id", func(t *testing.T) {
		var rr *httptest.ResponseRecorder
		handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeErrorResponse(w, r, http.StatusInternalServerError, errors.New("boom"))
		}))
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		var resp ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.RequestID == "" {
			t.Fatalf("expected request id in %+v", resp)
		}
	})
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code folio.ErrorCode
		want int
	}{
		{name: "invalid", code: folio.ErrCodeInvalidInput, want: http.StatusBadRequest},
		{name: "validation", code: folio.ErrCodeValidation, want: http.StatusBadRequest},
		{name: "currency mismatch", code: folio.ErrCodeCurrencyMismatch, want: http.StatusBadRequest},
		{name: "not found", code: folio.ErrCodeNotFound, want: http.StatusNotFound},
		{name: "duplicate", code: folio.ErrCodeDuplicate, want: http.StatusConflict},
		{name: "database", code: folio.ErrCodeDatabase, want: http.StatusInternalServerError},
		{name: "internal", code: folio.ErrCodeInternal, want: http.StatusInternalServerError},
		{name: "default", code: folio.ErrorCode("UNKNOWN"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
