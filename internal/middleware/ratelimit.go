package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はダッシュボードAPI自体のレート制限設定を保持する。
// アップストリームへのペーシングとは独立で、セッション単位に適用する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	RunStartRate    rate.Limit    // 収集開始のレート（req/sec）
	RunStartBurst   int           // 収集開始のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/セッション、収集開始 10 req/min/セッション。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		RunStartRate:    rate.Limit(10.0 / 60.0),
		RunStartBurst:   10,
		CleanupInterval: 5 * time.Minute,
	}
}

// sessionLimiter はセッションごとのレートリミッターとアクセス時刻を保持する。
type sessionLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はセッションごとのレート制限を管理する。
// API全般と収集開始（コストの高いパイプライン起動）の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	general  map[string]*sessionLimiter
	runStart map[string]*sessionLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  make(map[string]*sessionLimiter),
		runStart: make(map[string]*sessionLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// SessionMiddlewareの後に配置すること。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, rl.config.GeneralBurst, "general")
}

// RunStartMiddleware は収集開始専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) RunStartMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.runStart, rl.config.RunStartRate, rl.config.RunStartBurst, "run_start")
}

// middleware は指定のリミッターマップに対するレート制限ミドルウェアを生成する。
func (rl *RateLimiter) middleware(limiters map[string]*sessionLimiter, limit rate.Limit, burst int, kind string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := SessionFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreate(limiters, session.ID, limit, burst)
			if !limiter.Allow() {
				writeRateLimitResponse(w, limit)
				slog.Warn("rate limit exceeded",
					slog.String("session_id", session.ID),
					slog.String("limit_type", kind),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getOrCreate はセッションのリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreate(limiters map[string]*sessionLimiter, sessionID string, limit rate.Limit, burst int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if sl, ok := limiters[sessionID]; ok {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	sl := &sessionLimiter{
		limiter:    rate.NewLimiter(limit, burst),
		lastAccess: time.Now(),
	}
	limiters[sessionID] = sl
	return sl.limiter
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.general) + len(rl.runStart)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, limiters := range []map[string]*sessionLimiter{rl.general, rl.runStart} {
		for id, sl := range limiters {
			if now.Sub(sl.lastAccess) > ttl {
				delete(limiters, id)
			}
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
