package session

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-pipe/internal/registry"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	reg, err := registry.New[*Session]()
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return NewStore(reg, nil)
}

func TestStore_CreateLookup(t *testing.T) {
	s := newStore(t)

	sess, err := s.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.Key == "" || sess.ID == "" {
		t.Fatalf("session missing key or id: %+v", sess)
	}

	got, ok := s.Lookup(sess.Key)
	if !ok {
		t.Fatal("Lookup() did not find the created session")
	}
	if got != sess {
		t.Error("Lookup() returned a different session")
	}

	if _, ok := s.Lookup("unknown"); ok {
		t.Error("Lookup() found a session for an unknown key")
	}
}

func TestStore_Destroy(t *testing.T) {
	s := newStore(t)
	sess, _ := s.Create()

	if _, ok := s.Destroy(sess.Key); !ok {
		t.Fatal("Destroy() reported missing session")
	}
	if _, ok := s.Lookup(sess.Key); ok {
		t.Error("session still present after Destroy()")
	}
	if _, ok := s.Destroy(sess.Key); ok {
		t.Error("second Destroy() reported success")
	}
}

func TestStore_Sweep(t *testing.T) {
	s := newStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	stale, _ := s.Create()
	now = now.Add(time.Hour)
	fresh, _ := s.Create()

	if n := s.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, ok := s.sessions.Get(stale.Key); ok {
		t.Error("stale session survived the sweep")
	}
	if _, ok := s.sessions.Get(fresh.Key); !ok {
		t.Error("fresh session was swept")
	}
}

func TestStore_LookupKeepsAlive(t *testing.T) {
	s := newStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sess, _ := s.Create()
	now = now.Add(time.Hour)
	s.Lookup(sess.Key)

	if n := s.Sweep(30 * time.Minute); n != 0 {
		t.Errorf("Sweep() removed %d active sessions", n)
	}
}

func TestStore_RunStopsOnCancel(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
