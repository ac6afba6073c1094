package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// Service はOAuthフローとセッションのライフサイクルを管理する。
// トークンはOAuth交換で発行され、セッションの間保持され、
// 明示的なログアウトまたはアップストリームの401で無効化される。
type Service struct {
	provider OAuthProvider
	store    *SessionStore
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(provider OAuthProvider, store *SessionStore, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		store:    store,
		logger:   logger,
	}
}

// GetLoginURL はOAuth認可URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.provider.GetLoginURL(state)
}

// HandleCallback は認可コードを交換し、新しいセッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*Session, error) {
	token, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}

	session := s.store.Create(token.AccessToken, token.UserID)

	s.logger.Info("セッションを発行しました",
		slog.Int64("seller_id", token.UserID),
		slog.Int("expires_in", token.ExpiresIn),
	)

	return session, nil
}

// FindSession はセッションIDから有効なセッションを取得する。
// 存在しない、または期限切れの場合はnilを返す。
func (s *Service) FindSession(sessionID string) *Session {
	return s.store.Find(sessionID)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(sessionID string) {
	s.store.Delete(sessionID)
}

// Invalidate はアップストリームに資格情報を拒否されたセッションを破棄する。
// 呼び出し元は再認証を要求するレスポンスを返すこと。
func (s *Service) Invalidate(sessionID string) {
	s.logger.Warn("アップストリームの認証拒否によりセッションを無効化します",
		slog.String("session_id", sessionID),
	)
	s.store.Delete(sessionID)
}
