package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session は1ブラウザセッション分の認証状態。
// ベアラートークンはプロセスメモリ上にのみ保持し、永続化しない。
type Session struct {
	ID        string
	Token     string
	SellerID  int64
	ExpiresAt time.Time
}

// SessionStore はインメモリのTTL付きセッションストア。
// バックグラウンドで期限切れエントリを定期的にクリーンアップする。
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	stopCh   chan struct{}
}

// NewSessionStore は新しいSessionStoreを生成し、クリーンアップを開始する。
func NewSessionStore(ttl time.Duration) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *SessionStore) Stop() {
	close(s.stopCh)
}

// Create は新しいセッションを発行する。セッションIDはUUIDv4。
func (s *SessionStore) Create(token string, sellerID int64) *Session {
	session := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		SellerID:  sellerID,
		ExpiresAt: time.Now().Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Find はセッションIDからセッションを取得する。
// 存在しない、または期限切れの場合はnilを返す。
func (s *SessionStore) Find(id string) *Session {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil
	}
	if time.Now().After(session.ExpiresAt) {
		s.Delete(id)
		return nil
	}
	return session
}

// Delete はセッションを破棄する。存在しないIDは無視する。
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Count は現在保持しているセッション数を返す。テストおよびメトリクス用。
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// cleanupLoop はバックグラウンドで期限切れセッションを定期的に削除する。
func (s *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は期限切れセッションを削除する。
func (s *SessionStore) cleanup() {
	now := time.Now()
	s.mu.Lock()
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
}
