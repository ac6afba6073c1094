package model

import (
	"errors"
	"fmt"
)

// ErrAuthRejected はアップストリームが資格情報を拒否した（401/403）ことを示す。
// 一時的な障害ではないためリトライせず、パイプラインを即時中断し、
// 呼び出し元に再認証を強制させる。errors.Isで判定可能。
var ErrAuthRejected = errors.New("upstream rejected credential")

// APIError はUIに返す統一エラーフォーマット。
// 原因カテゴリとユーザー向け対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthExpired      = "AUTH_EXPIRED"
	ErrCodeUpstreamFailed   = "UPSTREAM_FAILED"
	ErrCodeRunNotFound      = "RUN_NOT_FOUND"
	ErrCodeRunNotFinished   = "RUN_NOT_FINISHED"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
	ErrCodeThumbnailBlocked = "THUMBNAIL_BLOCKED"
)

// NewAuthExpiredError は資格情報の失効エラーを生成する。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  "マーケットプレイスの認証が無効になりました。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUpstreamFailedError はアップストリーム呼び出し失敗エラーを生成する。
func NewUpstreamFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("マーケットプレイスAPIの呼び出しに失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRunNotFoundError は収集実行が見つからない場合のエラーを生成する。
func NewRunNotFoundError(runID string) *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFound,
		Message:  fmt.Sprintf("指定された収集実行が見つかりません: %s", runID),
		Category: "validation",
		Action:   "実行IDを確認してください。",
	}
}

// NewRunNotFinishedError は収集実行がまだ終端状態でない場合のエラーを生成する。
func NewRunNotFinishedError(runID string) *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFinished,
		Message:  fmt.Sprintf("収集実行はまだ完了していません: %s", runID),
		Category: "validation",
		Action:   "進捗を確認し、完了後に結果を取得してください。",
	}
}

// NewInvalidParameterError は無効なリクエストパラメータのエラーを生成する。
func NewInvalidParameterError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("無効なパラメータです: %s", reason),
		Category: "validation",
		Action:   "リクエストパラメータを確認してください。",
	}
}

// NewThumbnailBlockedError はサムネイルプロキシのブロックエラーを生成する。
func NewThumbnailBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeThumbnailBlocked,
		Message:  "セキュリティポリシーにより、指定された画像URLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "マーケットプレイスが返した画像URLのみ指定できます。",
	}
}
