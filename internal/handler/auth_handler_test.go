package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/mercadash/internal/auth"
	"github.com/hitoshi/mercadash/internal/middleware"
)

// mockAuthService はAuthServiceInterfaceのモック。
type mockAuthService struct {
	getLoginURLFunc    func(state string) string
	handleCallbackFunc func(ctx context.Context, code string) (*auth.Session, error)
	logoutFunc         func(sessionID string)
	findSessionFunc    func(sessionID string) *auth.Session
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFunc != nil {
		return m.getLoginURLFunc(state)
	}
	return "https://auth.example.com/authorization?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.Session, error) {
	if m.handleCallbackFunc != nil {
		return m.handleCallbackFunc(ctx, code)
	}
	return &auth.Session{ID: "session-1", SellerID: 123, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockAuthService) Logout(sessionID string) {
	if m.logoutFunc != nil {
		m.logoutFunc(sessionID)
	}
}

func (m *mockAuthService) FindSession(sessionID string) *auth.Session {
	if m.findSessionFunc != nil {
		return m.findSessionFunc(sessionID)
	}
	return nil
}

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		BaseURL:       "http://localhost:3000",
		CookieSecure:  false,
		SessionMaxAge: 21600,
	}
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Login(t *testing.T) {
	var receivedState string
	service := &mockAuthService{
		getLoginURLFunc: func(state string) string {
			receivedState = state
			return "https://auth.example.com/authorization?state=" + state
		},
	}
	h := NewAuthHandler(service, testAuthConfig())

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/meli/login", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}

	cookie := findCookie(t, rec, oauthStateCookie)
	if cookie == nil {
		t.Fatal("oauth_state Cookieが設定されていない")
	}
	if !cookie.HttpOnly {
		t.Error("oauth_state CookieがHttpOnlyでない")
	}
	if cookie.Value != receivedState {
		t.Errorf("Cookieのstate %q がログインURLのstate %q と一致しない", cookie.Value, receivedState)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "state="+receivedState) {
		t.Errorf("リダイレクト先にstateが含まれていない: %q", loc)
	}
}

func TestAuthHandler_Callback_StateMismatch(t *testing.T) {
	called := false
	service := &mockAuthService{
		handleCallbackFunc: func(ctx context.Context, code string) (*auth.Session, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAuthHandler(service, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/meli/callback?code=abc&state=evil", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "expected"})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if called {
		t.Error("stateが不一致なのにコード交換が実行された")
	}
}

func TestAuthHandler_Callback_MissingCode(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/meli/callback?state=xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "xyz"})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthHandler_Callback_Success(t *testing.T) {
	service := &mockAuthService{
		handleCallbackFunc: func(ctx context.Context, code string) (*auth.Session, error) {
			if code != "auth-code-1" {
				t.Errorf("code = %q, want %q", code, "auth-code-1")
			}
			return &auth.Session{ID: "session-1", SellerID: 123, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := NewAuthHandler(service, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/meli/callback?code=auth-code-1&state=xyz", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "xyz"})
	rec := httptest.NewRecorder()
	h.Callback(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "http://localhost:3000" {
		t.Errorf("リダイレクト先 = %q", loc)
	}

	sessionCookie := findCookie(t, rec, middleware.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("セッションCookieが設定されていない")
	}
	if sessionCookie.Value != "session-1" {
		t.Errorf("セッションCookieの値 = %q, want session-1", sessionCookie.Value)
	}
	if !sessionCookie.HttpOnly {
		t.Error("セッションCookieがHttpOnlyでない")
	}

	stateCookie := findCookie(t, rec, oauthStateCookie)
	if stateCookie == nil || stateCookie.MaxAge != -1 {
		t.Error("stateクッキーが削除されていない")
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	var loggedOut string
	service := &mockAuthService{
		logoutFunc: func(sessionID string) { loggedOut = sessionID },
	}
	h := NewAuthHandler(service, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", rec.Code)
	}
	if loggedOut != "session-1" {
		t.Errorf("破棄されたセッションID = %q, want session-1", loggedOut)
	}

	cookie := findCookie(t, rec, middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Error("セッションCookieがクリアされていない")
	}
}

func TestAuthHandler_Me(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	service := &mockAuthService{
		findSessionFunc: func(sessionID string) *auth.Session {
			if sessionID != "session-1" {
				return nil
			}
			return &auth.Session{ID: "session-1", SellerID: 123, ExpiresAt: expires}
		},
	}
	h := NewAuthHandler(service, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのJSONパースに失敗: %v", err)
	}
	if body["seller_id"] != float64(123) {
		t.Errorf("seller_id = %v, want 123", body["seller_id"])
	}
}

func TestAuthHandler_Me_Unauthenticated(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
