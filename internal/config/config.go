// Package config はアプリケーション設定を提供する。
// .envファイルと環境変数から起動時に1回読み込み、イミュータブルとして扱う。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config はアプリケーション全体の設定を保持する。
type Config struct {
	Server Server
	OAuth  OAuth
	Meli   Meli
	Fetch  Fetch
	Rate   Rate
}

// Server はHTTPサーバーの設定。
type Server struct {
	Port              string        `envconfig:"SERVER_PORT" default:"8080"`
	BaseURL           string        `envconfig:"BASE_URL" required:"true"`
	ReadTimeout       time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout   time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	CORSAllowedOrigin string        `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:3000"`
	CookieDomain      string        `envconfig:"COOKIE_DOMAIN" default:""`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
}

// OAuth はマーケットプレイスOAuthの設定。
type OAuth struct {
	ClientID     string `envconfig:"MELI_CLIENT_ID" required:"true"`
	ClientSecret string `envconfig:"MELI_CLIENT_SECRET" required:"true"`
	RedirectURL  string `envconfig:"MELI_REDIRECT_URL" required:"true"`

	// SessionTTL はセッションの有効期間。
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"6h"`
}

// Meli はマーケットプレイスAPIの接続設定。
type Meli struct {
	// APIBaseURL はREST APIのベースURL。テスト環境では差し替える。
	APIBaseURL string `envconfig:"MELI_API_BASE_URL" default:"https://api.mercadolibre.com"`
	// AuthBaseURL はOAuth認可エンドポイントのベースURL。
	AuthBaseURL string `envconfig:"MELI_AUTH_BASE_URL" default:"https://auth.mercadolibre.com.ar"`
	// Timeout は1リクエストあたりのHTTPタイムアウト。
	Timeout time.Duration `envconfig:"MELI_HTTP_TIMEOUT" default:"15s"`
}

// Fetch は収集パイプラインのチューニングパラメータ。
// ページ間隔はアップストリームのレート制限を避けるための
// スループット/レイテンシのトレードオフであり、正しさの要件ではない。
type Fetch struct {
	// PageSize は一覧系エンドポイントの1ページあたり件数（上限50）。
	PageSize int `envconfig:"FETCH_PAGE_SIZE" default:"50"`
	// BatchSize はマルチゲットの1リクエストあたり件数（上限20）。
	BatchSize int `envconfig:"FETCH_BATCH_SIZE" default:"20"`
	// PageInterval はページ間・バッチ間のリクエスト間隔。
	PageInterval time.Duration `envconfig:"FETCH_PAGE_INTERVAL" default:"750ms"`
	// RetryMax はトランジエント障害に対するリトライ回数の上限。
	RetryMax int `envconfig:"FETCH_RETRY_MAX" default:"3"`
	// RetryBaseDelay は指数バックオフの初回遅延。
	RetryBaseDelay time.Duration `envconfig:"FETCH_RETRY_BASE_DELAY" default:"1s"`
	// SafetyCeiling は1回の収集で取得するレコード数の安全上限。
	// 最悪ケースのコストを抑えるための意図的な打ち切りで、エラーではない。
	SafetyCeiling int `envconfig:"FETCH_SAFETY_CEILING" default:"1000"`
	// FailureThreshold は収集を打ち切る連続ページ失敗数。
	FailureThreshold int `envconfig:"FETCH_FAILURE_THRESHOLD" default:"3"`
	// SalesWindowDays は売上集計の対象期間（日数）。
	SalesWindowDays int `envconfig:"SALES_WINDOW_DAYS" default:"60"`
}

// Rate はダッシュボードAPI自体のレート制限設定（セッション単位、req/min）。
type Rate struct {
	General  int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RunStart int `envconfig:"RATE_LIMIT_RUN_START" default:"10"`
}

// 上限はアップストリーム仕様による固定値。設定での超過は丸める。
const (
	maxPageSize  = 50
	maxBatchSize = 20
)

// Load は.envと環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envが存在する場合のみ読み込む（本番では環境変数を直接使用）
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if cfg.Fetch.PageSize <= 0 || cfg.Fetch.PageSize > maxPageSize {
		cfg.Fetch.PageSize = maxPageSize
	}
	if cfg.Fetch.BatchSize <= 0 || cfg.Fetch.BatchSize > maxBatchSize {
		cfg.Fetch.BatchSize = maxBatchSize
	}
	if cfg.Fetch.RetryMax < 0 {
		cfg.Fetch.RetryMax = 0
	}
	if cfg.Fetch.SalesWindowDays <= 0 {
		cfg.Fetch.SalesWindowDays = 60
	}

	return cfg, nil
}

// CookieSecure はBaseURLがhttpsの場合にtrueを返す。
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}
