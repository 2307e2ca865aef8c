// Package session keeps per-client sessions in an identifier registry,
// addressed by short opaque keys handed to clients.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-pipe/internal/registry"
)

// Session is server-side state for one client.
type Session struct {
	ID        string
	Key       string
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// LastSeen returns the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Store holds sessions keyed by registry-generated keys.
type Store struct {
	sessions *registry.Registry[*Session]
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a store backed by reg.
func NewStore(reg *registry.Registry[*Session], logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{sessions: reg, logger: logger, now: time.Now}
}

// Create starts a new session under a fresh key.
func (s *Store) Create() (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		lastSeen:  now,
	}

	// Key must be set before the session becomes visible, so generate and
	// insert separately and retry if another writer took the key in between.
	for {
		key, err := s.sessions.Generate()
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		sess.Key = key
		err = s.sessions.Set(key, sess)
		if err == nil {
			return sess, nil
		}
		if !registry.IsDuplicateKey(err) {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
}

// Lookup returns the session for key and marks it active.
func (s *Store) Lookup(key string) (*Session, bool) {
	sess, ok := s.sessions.Get(key)
	if !ok {
		return nil, false
	}
	sess.Touch(s.now())
	return sess, true
}

// Destroy removes the session for key.
func (s *Store) Destroy(key string) (*Session, bool) {
	return s.sessions.Delete(key)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.sessions.Len()
}

// Sweep removes sessions idle for longer than maxIdle and returns how many
// were removed.
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for _, e := range s.sessions.Entries() {
		if e.Value.LastSeen().Before(cutoff) {
			if _, ok := s.sessions.Delete(e.Key); ok {
				removed++
			}
		}
	}
	return removed
}

// Run sweeps idle sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(maxIdle); n > 0 {
				s.logger.Info("swept idle sessions",
					slog.Int("removed", n),
					slog.Int("remaining", s.Len()),
				)
			}
		}
	}
}
