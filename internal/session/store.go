// Package session issues signed session tokens backed by a server-side
// session list, so a logged-out token stops working even before it expires.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/metrics"
	"github.com/google/uuid"
)

// Persister saves and restores the full session list.
type Persister interface {
	LoadSessions(ctx context.Context) ([]domain.Session, error)
	SaveSessions(ctx context.Context, sessions []domain.Session) error
}

// Config controls token signing and lifetime.
type Config struct {
	Secret string
	TTL    time.Duration
}

// RemovalHook is called with the id of every session that leaves the store.
type RemovalHook func(sid string)

// Store is the authoritative in-memory session list, written through to a Persister.
type Store struct {
	persist Persister
	signer  *signer
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	sessions []domain.Session
	hooks    []RemovalHook

	persistMu sync.Mutex // orders writes so the newest list lands last
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
		s.signer.now = now
	}
}

// NewStore loads persisted sessions and drops those already expired.
func NewStore(ctx context.Context, persist Persister, cfg Config, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		persist: persist,
		signer:  &signer{key: []byte(cfg.Secret), now: time.Now},
		ttl:     cfg.TTL,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, err := persist.LoadSessions(ctx)
	if err != nil {
		return nil, err
	}
	s.sessions = loaded
	s.SweepExpired(ctx)
	return s, nil
}

// OnRemove registers a hook run after a session is invalidated or expires.
func (s *Store) OnRemove(hook RemovalHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Create starts a session for user and returns its signed token.
func (s *Store) Create(ctx context.Context, user domain.PublicUser) (string, domain.Session, error) {
	s.SweepExpired(ctx)

	now := s.now().UTC()
	sess := domain.Session{
		SID:       uuid.NewString(),
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	token, err := s.signer.sign(sess.SID, sess.UserID, sess.Username, s.ttl)
	if err != nil {
		return "", domain.Session{}, err
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()

	s.save(ctx)
	s.logger.Info("Session created", "user_id", sess.UserID, "username", sess.Username)
	return token, sess, nil
}

// Lookup resolves a token to its live session. Tokens with a bad signature,
// past expiry, or whose session was invalidated resolve to nothing.
func (s *Store) Lookup(token string) (domain.Session, bool) {
	s.SweepExpired(context.Background())
	if token == "" {
		return domain.Session{}, false
	}
	sid, err := s.signer.parse(token)
	if err != nil {
		return domain.Session{}, false
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.SID == sid {
			if sess.Expired(now) {
				return domain.Session{}, false
			}
			return sess, true
		}
	}
	return domain.Session{}, false
}

// Invalidate removes a session. It is a no-op for unknown ids.
func (s *Store) Invalidate(ctx context.Context, sid string) {
	s.mu.Lock()
	kept := s.sessions[:0:0]
	removed := false
	for _, sess := range s.sessions {
		if sess.SID == sid {
			removed = true
			continue
		}
		kept = append(kept, sess)
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	s.sessions = kept
	hooks := append([]RemovalHook(nil), s.hooks...)
	s.mu.Unlock()

	s.save(ctx)
	for _, hook := range hooks {
		hook(sid)
	}
}

// SweepExpired drops expired sessions and returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	kept := s.sessions[:0:0]
	var expired []string
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			expired = append(expired, sess.SID)
			continue
		}
		kept = append(kept, sess)
	}
	s.sessions = kept
	active := len(kept)
	hooks := append([]RemovalHook(nil), s.hooks...)
	s.mu.Unlock()

	metrics.SetActiveSessions(active)
	if len(expired) == 0 {
		return 0
	}

	s.save(ctx)
	for _, sid := range expired {
		for _, hook := range hooks {
			hook(sid)
		}
	}
	s.logger.Info("Expired sessions removed", "count", len(expired))
	return len(expired)
}

// Has reports whether sid names a live session.
func (s *Store) Has(sid string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.SID == sid {
			return !sess.Expired(now)
		}
	}
	return false
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("Session sweeper started", "interval", interval, "ttl", s.ttl)

	for {
		select {
		case <-ticker.C:
			s.SweepExpired(ctx)
		case <-ctx.Done():
			s.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// save writes the current list through to the persister. A failed write is
// logged; the in-memory list stays authoritative and the next save rewrites
// everything.
func (s *Store) save(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	snapshot := append([]domain.Session(nil), s.sessions...)
	s.mu.Unlock()

	if err := s.persist.SaveSessions(context.WithoutCancel(ctx), snapshot); err != nil {
		s.logger.Warn("Failed to persist sessions", "error", err)
	}
}
