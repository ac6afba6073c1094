package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware_GeneratesIDWhenAbsent(t *testing.T) {
	var ctxID string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	headerID := rec.Header().Get(requestIDHeader)
	if headerID == "" {
		t.Fatal("X-Request-IDヘッダーが設定されていない")
	}
	if _, err := uuid.Parse(headerID); err != nil {
		t.Errorf("リクエストIDがUUIDではない: %q", headerID)
	}
	if ctxID != headerID {
		t.Errorf("コンテキストのID %q とヘッダーのID %q が一致しない", ctxID, headerID)
	}
}

func TestRequestIDMiddleware_PassesThroughExistingID(t *testing.T) {
	var ctxID string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "upstream-id-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "upstream-id-42" {
		t.Errorf("ヘッダーのID = %q, want %q", got, "upstream-id-42")
	}
	if ctxID != "upstream-id-42" {
		t.Errorf("コンテキストのID = %q, want %q", ctxID, "upstream-id-42")
	}
}

func TestRequestIDFromContext_Unset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Errorf("未設定コンテキストのID = %q, want 空文字列", got)
	}
}
