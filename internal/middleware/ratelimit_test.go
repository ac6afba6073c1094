package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/mercadash/internal/auth"
)

// smallLimiterConfig はテスト用にバーストを小さくした設定を返す。
// クリーンアップは手動で呼ぶため間隔は長めに設定する。
func smallLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    2,
		RunStartRate:    rate.Limit(1.0 / 60.0),
		RunStartBurst:   1,
		CleanupInterval: time.Hour,
	}
}

func newLimitedRequest(sessionID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/report", nil)
	session := &auth.Session{ID: sessionID, SellerID: 123, ExpiresAt: time.Now().Add(time.Hour)}
	return req.WithContext(ContextWithSession(req.Context(), session))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_BurstExhaustionReturns429(t *testing.T) {
	rl := NewRateLimiter(smallLimiterConfig())
	t.Cleanup(rl.Stop)

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newLimitedRequest("session-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("リクエスト%d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newLimitedRequest("session-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("バースト超過後 status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されていない")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRateLimiter_SessionsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(smallLimiterConfig())
	t.Cleanup(rl.Stop)

	handler := rl.GeneralMiddleware()(okHandler())

	// session-1のバーストを使い切る。
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newLimitedRequest("session-1"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newLimitedRequest("session-2"))
	if rec.Code != http.StatusOK {
		t.Errorf("別セッションのリクエストが拒否された: status = %d", rec.Code)
	}
}

func TestRateLimiter_GeneralAndRunStartAreIndependent(t *testing.T) {
	rl := NewRateLimiter(smallLimiterConfig())
	t.Cleanup(rl.Stop)

	general := rl.GeneralMiddleware()(okHandler())
	runStart := rl.RunStartMiddleware()(okHandler())

	// 収集開始のバースト（1件）を使い切る。
	rec := httptest.NewRecorder()
	runStart.ServeHTTP(rec, newLimitedRequest("session-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("収集開始1回目 status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	runStart.ServeHTTP(rec, newLimitedRequest("session-1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("収集開始2回目 status = %d, want 429", rec.Code)
	}

	// API全般のリミッターには影響しない。
	rec = httptest.NewRecorder()
	general.ServeHTTP(rec, newLimitedRequest("session-1"))
	if rec.Code != http.StatusOK {
		t.Errorf("API全般のリクエストが巻き添えで拒否された: status = %d", rec.Code)
	}
}

func TestRateLimiter_MissingSessionIsRejected(t *testing.T) {
	rl := NewRateLimiter(smallLimiterConfig())
	t.Cleanup(rl.Stop)

	handler := rl.GeneralMiddleware()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRateLimiter_CleanupEvictsStaleEntries(t *testing.T) {
	config := smallLimiterConfig()
	config.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(config)
	t.Cleanup(rl.Stop)

	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), newLimitedRequest("session-1"))

	if got := rl.LimiterCount(); got != 1 {
		t.Fatalf("LimiterCount = %d, want 1", got)
	}

	// 最終アクセスをTTL（CleanupIntervalの2倍）より過去にずらす。
	rl.mu.Lock()
	rl.general["session-1"].lastAccess = time.Now().Add(-time.Minute)
	rl.mu.Unlock()

	rl.cleanup()

	if got := rl.LimiterCount(); got != 0 {
		t.Errorf("クリーンアップ後のLimiterCount = %d, want 0", got)
	}
}

func TestWriteRateLimitResponse_RetryAfterSeconds(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimitResponse(rec, rate.Limit(1.0/30.0))

	if got := rec.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want %q", got, "30")
	}
}
