package store

import (
	"path/filepath"
	"testing"
)

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}
	if err := s.Put("unread_total", "3"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("unread_total", "4"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, ok, err := s.Get("unread_total")
	if err != nil || !ok || v != "4" {
		t.Fatalf("Get = %q ok=%v err=%v, want 4", v, ok, err)
	}
	if err := s.Delete("unread_total"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get("unread_total"); ok {
		t.Fatalf("key survived delete")
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put("session", `{"user_id":"me"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, ok, err := s2.Get("session")
	if err != nil || !ok || v != `{"user_id":"me"}` {
		t.Fatalf("Get after reopen = %q ok=%v err=%v", v, ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	if err := s.Put("k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, _ := s.Get("k")
	if !ok || v != "v" {
		t.Fatalf("Get = %q ok=%v", v, ok)
	}
	s.Delete("k")
	if _, ok, _ := s.Get("k"); ok {
		t.Fatalf("key survived delete")
	}
}
