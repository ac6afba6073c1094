package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/hitoshi/mercadash/internal/middleware"
	"github.com/hitoshi/mercadash/internal/report"
	"github.com/hitoshi/mercadash/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 収集実行とレポート
	Runner   RunnerInterface
	Provider ReportProvider
	WriteCSV func(w http.ResponseWriter, rows []report.Row) error

	// サムネイルプロキシ
	SSRFGuard security.SSRFGuardService

	// 運用エンドポイント
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → CORS → SessionMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// 認証ルート（/auth/*）と運用エンドポイントはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{deps.CORSAllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	runHandler := NewRunHandler(deps.Runner)
	reportHandler := NewReportHandler(deps.Provider, deps.WriteCSV)
	thumbnailHandler := NewThumbnailHandler(deps.SSRFGuard)

	// --- 認証不要のルート ---

	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/meli/login", authHandler.Login)
		r.Get("/meli/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 収集実行（開始は専用レート制限を追加）
		r.With(deps.RateLimiter.RunStartMiddleware()).Post("/api/catalog/runs", runHandler.StartCatalogRun)
		r.With(deps.RateLimiter.RunStartMiddleware()).Post("/api/sales/runs", runHandler.StartSalesRun)

		r.Route("/api/runs/{id}", func(r chi.Router) {
			r.Get("/", runHandler.GetRun)
			r.Get("/result", runHandler.GetRunResult)
		})

		// ダッシュボードレポート
		r.Route("/api/report", func(r chi.Router) {
			r.Get("/", reportHandler.GetReport)
			r.Get("/export.csv", reportHandler.ExportCSV)
		})

		// サムネイルプロキシ
		r.Get("/api/items/thumbnail", thumbnailHandler.Proxy)
	})

	return r
}

// Health はプロセスの死活を返す。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
