package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/mercadash/internal/model"
)

// decodeJSONBody はレスポンスボディをJSONとしてデコードする。
func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("レスポンスのJSONパースに失敗: %v", err)
	}
}

func TestWriteAPIErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	writeAPIErrorResponse(rec, http.StatusNotFound, model.NewRunNotFoundError("run-1"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body apiErrorResponse
	decodeJSONBody(t, rec, &body)
	if body.Code != model.ErrCodeRunNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRunNotFound)
	}
	if body.Category != "validation" {
		t.Errorf("category = %q, want validation", body.Category)
	}
	if body.Action == "" {
		t.Error("actionが空")
	}
}

func TestHandleServiceError_AuthRejected(t *testing.T) {
	rec := httptest.NewRecorder()
	handleServiceError(rec, fmt.Errorf("search: %w", model.ErrAuthRejected))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	var body apiErrorResponse
	decodeJSONBody(t, rec, &body)
	if body.Code != model.ErrCodeAuthExpired {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAuthExpired)
	}
}

func TestHandleServiceError_APIError(t *testing.T) {
	rec := httptest.NewRecorder()
	handleServiceError(rec, model.NewUpstreamFailedError("timeout"))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandleServiceError_UnknownError(t *testing.T) {
	rec := httptest.NewRecorder()
	handleServiceError(rec, errors.New("something broke"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	var body apiErrorResponse
	decodeJSONBody(t, rec, &body)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeAuthExpired, http.StatusUnauthorized},
		{model.ErrCodeUpstreamFailed, http.StatusBadGateway},
		{model.ErrCodeRunNotFound, http.StatusNotFound},
		{model.ErrCodeRunNotFinished, http.StatusConflict},
		{model.ErrCodeInvalidParameter, http.StatusBadRequest},
		{model.ErrCodeThumbnailBlocked, http.StatusForbidden},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code})
		if got != tt.want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	decodeJSONBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}
