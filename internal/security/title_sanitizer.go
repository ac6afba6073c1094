package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizerService は出品タイトルのサニタイズ機能のインターフェース。
// タイトルはアップストリーム由来の信頼できないテキストであり、
// ダッシュボードがブラウザに表示する前に必ずサニタイズする。
type TitleSanitizerService interface {
	// Sanitize はタイトルから全てのHTMLマークアップを除去し、
	// プレーンテキストを返す。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(title string) string
}

// titleSanitizer はTitleSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerServiceの新しいインスタンスを生成する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタイトルから全てのHTMLマークアップを除去する。
// bluemondayはエンティティをエスケープして返すため、
// プレーンテキストとして扱えるようアンエスケープして戻す。
func (s *titleSanitizer) Sanitize(title string) string {
	if title == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(title)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

// compile-time interface check
var _ TitleSanitizerService = (*titleSanitizer)(nil)
