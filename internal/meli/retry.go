package meli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mercadash/internal/model"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultAuthRejected は資格情報の拒否（401/403）。
	// 一時的な状態ではないためリトライせず即時中断する。
	FetchResultAuthRejected
	// FetchResultBackoff はバックオフとリトライが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultPassthrough はその他の非2xxステータス。
	// レスポンスをそのまま返し、致命的かどうかは呼び出し元が判断する。
	FetchResultPassthrough
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultAuthRejected
	case statusCode == http.StatusTooManyRequests:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultPassthrough
	}
}

// RetryPolicy はトランジエント障害に対するリトライ指針。
type RetryPolicy struct {
	// MaxRetries は初回試行を除くリトライ回数の上限。
	MaxRetries int
	// BaseDelay は指数バックオフの初回遅延。
	BaseDelay time.Duration
}

// DefaultRetryPolicy はデフォルトのリトライ指針を返す（3回、初回1秒）。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1000 * time.Millisecond,
	}
}

// CalculateBackoff はリトライ試行回数に基づく指数バックオフ遅延を計算する。
// attempt=0で初回遅延、以降2倍ずつ増加する。
func CalculateBackoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// doWithRetry は1回のアップストリーム呼び出しをリトライ/バックオフ付きで実行する。
// 呼び出しごとに独立しており、呼び出し間で状態を持たない。
//   - 2xx: 即時返却。
//   - 401/403: リトライせずmodel.ErrAuthRejectedを返す。
//   - 429/5xx: base*2^attemptの遅延後にリトライ。予算超過でエラー。
//   - その他の非2xx: レスポンスをそのまま返す。
//   - トランスポート障害: 同じバックオフスケジュールでリトライ。
//
// リクエストボディを持たないGET呼び出しを前提に、試行ごとに
// newReqでリクエストを作り直す。
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(c.retry.BaseDelay, attempt-1)
			c.logger.Warn("アップストリーム呼び出しをバックオフ後にリトライします",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("reason", lastErr.Error()),
			)
			if c.metrics != nil {
				c.metrics.RecordRetry()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// トランスポート障害（レスポンスなし）はリトライ対象
			lastErr = fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordUpstreamStatus(resp.StatusCode)
		}

		switch ClassifyHTTPStatus(resp.StatusCode) {
		case FetchResultOK, FetchResultPassthrough:
			return resp, nil
		case FetchResultAuthRejected:
			resp.Body.Close()
			return nil, fmt.Errorf("認証が拒否されました (status %d): %w", resp.StatusCode, model.ErrAuthRejected)
		case FetchResultBackoff:
			resp.Body.Close()
			lastErr = fmt.Errorf("アップストリームがステータス %d を返しました", resp.StatusCode)
			continue
		}
	}

	return nil, fmt.Errorf("リトライ予算を使い切りました (%d回): %w", c.retry.MaxRetries, lastErr)
}
