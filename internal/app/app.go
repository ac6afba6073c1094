// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mercadash/internal/auth"
	"github.com/hitoshi/mercadash/internal/catalog"
	"github.com/hitoshi/mercadash/internal/config"
	"github.com/hitoshi/mercadash/internal/export"
	"github.com/hitoshi/mercadash/internal/handler"
	"github.com/hitoshi/mercadash/internal/logger"
	"github.com/hitoshi/mercadash/internal/meli"
	"github.com/hitoshi/mercadash/internal/metrics"
	"github.com/hitoshi/mercadash/internal/middleware"
	"github.com/hitoshi/mercadash/internal/report"
	"github.com/hitoshi/mercadash/internal/sales"
	"github.com/hitoshi/mercadash/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にデフォルトレベルでログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.Server.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Server.Port),
		slog.String("base_url", cfg.Server.BaseURL),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクスレジストリの初期化
	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewCollector(registry)

	// 2. アップストリームAPIクライアントの初期化
	meliClient := meli.NewClient(
		&http.Client{Timeout: cfg.Meli.Timeout},
		slog.Default(),
		meli.WithBaseURL(cfg.Meli.APIBaseURL),
		meli.WithRetryPolicy(meli.RetryPolicy{
			MaxRetries: cfg.Fetch.RetryMax,
			BaseDelay:  cfg.Fetch.RetryBaseDelay,
		}),
		meli.WithMetrics(metricsCollector),
	)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTitleSanitizer()

	// 4. 認証サービスの初期化
	oauthProvider := auth.NewMeliOAuthProvider(auth.OAuthConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURL,
		AuthURL:      cfg.Meli.AuthBaseURL + "/authorization",
	})
	sessionStore := auth.NewSessionStore(cfg.OAuth.SessionTTL)
	defer sessionStore.Stop()
	authService := auth.NewService(oauthProvider, sessionStore, slog.Default())

	// 5. 収集パイプラインの初期化
	catalogService := catalog.NewService(meliClient, sanitizer, slog.Default(), metricsCollector, catalog.Config{
		PageSize:         cfg.Fetch.PageSize,
		BatchSize:        cfg.Fetch.BatchSize,
		PageInterval:     cfg.Fetch.PageInterval,
		SafetyCeiling:    cfg.Fetch.SafetyCeiling,
		FailureThreshold: cfg.Fetch.FailureThreshold,
	})
	salesService := sales.NewService(meliClient, slog.Default(), metricsCollector, sales.Config{
		PageSize:         cfg.Fetch.PageSize,
		BatchSize:        cfg.Fetch.BatchSize,
		PageInterval:     cfg.Fetch.PageInterval,
		SafetyCeiling:    cfg.Fetch.SafetyCeiling,
		FailureThreshold: cfg.Fetch.FailureThreshold,
		WindowDays:       cfg.Fetch.SalesWindowDays,
	})

	// 6. 実行レジストリの初期化
	runner := report.NewRunner(catalogService, salesService, authService, slog.Default())
	defer runner.Stop()

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.Rate.General > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.Rate.General) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.Rate.General
	}
	if cfg.Rate.RunStart > 0 {
		rateLimiterCfg.RunStartRate = rate.Limit(float64(cfg.Rate.RunStart) / 60.0)
		rateLimiterCfg.RunStartBurst = cfg.Rate.RunStart
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     authService,
		CORSAllowedOrigin: cfg.Server.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.Server.BaseURL,
			CookieDomain:  cfg.Server.CookieDomain,
			CookieSecure:  cfg.CookieSecure(),
			SessionMaxAge: int(cfg.OAuth.SessionTTL.Seconds()),
		},

		Runner:   runner,
		Provider: runner,
		WriteCSV: func(w http.ResponseWriter, rows []report.Row) error {
			return export.WriteCSV(w, rows)
		},

		SSRFGuard: ssrfGuard,

		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
