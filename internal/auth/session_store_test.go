package auth

import (
	"testing"
	"time"
)

func TestSessionStore_CreateAndFind(t *testing.T) {
	store := NewSessionStore(time.Hour)
	defer store.Stop()

	session := store.Create("APP_USR-token", 123)
	if session.ID == "" {
		t.Fatal("セッションIDが空")
	}
	if session.Token != "APP_USR-token" {
		t.Errorf("Token = %s", session.Token)
	}
	if session.SellerID != 123 {
		t.Errorf("SellerID = %d, want 123", session.SellerID)
	}

	found := store.Find(session.ID)
	if found == nil {
		t.Fatal("作成直後のセッションが見つからない")
	}
	if found.ID != session.ID {
		t.Errorf("found.ID = %s, want %s", found.ID, session.ID)
	}
}

func TestSessionStore_FindUnknownID(t *testing.T) {
	store := NewSessionStore(time.Hour)
	defer store.Stop()

	if got := store.Find("no-such-session"); got != nil {
		t.Errorf("Find(未知ID) = %+v, want nil", got)
	}
}

func TestSessionStore_ExpiredSessionIsEvicted(t *testing.T) {
	store := NewSessionStore(10 * time.Millisecond)
	defer store.Stop()

	session := store.Create("token", 1)
	time.Sleep(30 * time.Millisecond)

	if got := store.Find(session.ID); got != nil {
		t.Errorf("期限切れセッションが返された: %+v", got)
	}
	if store.Count() != 0 {
		t.Errorf("Count = %d, want 0（期限切れ検知時に削除されること）", store.Count())
	}
}

func TestSessionStore_Delete(t *testing.T) {
	store := NewSessionStore(time.Hour)
	defer store.Stop()

	session := store.Create("token", 1)
	store.Delete(session.ID)

	if got := store.Find(session.ID); got != nil {
		t.Errorf("削除済みセッションが返された: %+v", got)
	}

	// 存在しないIDの削除は無視される
	store.Delete("no-such-session")
}

func TestSessionStore_UniqueIDs(t *testing.T) {
	store := NewSessionStore(time.Hour)
	defer store.Stop()

	a := store.Create("token-a", 1)
	b := store.Create("token-b", 2)
	if a.ID == b.ID {
		t.Error("セッションIDが重複した")
	}
	if store.Count() != 2 {
		t.Errorf("Count = %d, want 2", store.Count())
	}
}

func TestSessionStore_Cleanup(t *testing.T) {
	store := NewSessionStore(10 * time.Millisecond)
	defer store.Stop()

	store.Create("token-a", 1)
	store.Create("token-b", 2)
	time.Sleep(30 * time.Millisecond)

	store.cleanup()
	if store.Count() != 0 {
		t.Errorf("Count = %d, want 0", store.Count())
	}
}
