package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/oauthgate/internal/model"
)

// TestWriteErrorResponse_WritesJSONBody はAPIErrorがJSONで書き込まれることを検証する。
func TestWriteErrorResponse_WritesJSONBody(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, model.NewMissingCodeError())

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["code"] != model.ErrCodeMissingCode {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeMissingCode)
	}
	if body["message"] != "missing authorization code" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestWriteErrorResponse_StatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized},
		{"invalid state", model.NewInvalidStateError(), http.StatusBadRequest},
		{"email taken", model.NewEmailTakenError(), http.StatusConflict},
		{"inactive", model.NewAccountInactiveError(), http.StatusForbidden},
		{"rate limited", model.NewRateLimitedError(5), http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// TestWriteInternalServerError_HidesDetails は500レスポンスが固定メッセージであることを検証する。
func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "internal server error" {
		t.Errorf("body = %q, want %q", got, "internal server error")
	}
}

func TestHandleError_WrappedAPIErrorIsUnwrapped(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/login/callback", nil)

	HandleError(w, r, fmt.Errorf("callback: %w", model.NewInvalidStateError()))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), model.ErrCodeInvalidState) {
		t.Errorf("body should contain %q, got %q", model.ErrCodeInvalidState, w.Body.String())
	}
}

func TestHandleError_UnknownErrorReturns500(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	HandleError(w, r, errors.New("connection refused: 10.0.0.5:5432"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.5") {
		t.Error("internal error details must not leak to the client")
	}
}
