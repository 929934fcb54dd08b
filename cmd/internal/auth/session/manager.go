package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tracker/cmd/identity/ids"
	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/metrics"
	"tracker/cmd/internal/retry"
	"tracker/cmd/security/token"
)

// Session is the validated view of a session row.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Issued is returned by CreateSession. Token is the only copy of the clear-text credential.
type Issued struct {
	Token string
	Session
}

// Manager is the only writer of session rows.
type Manager struct {
	cfg     Config
	store   Store
	hasher  token.Hasher
	tokens  TokenGenerator
	clock   clock.Clock
	cache   Cache
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithCache enables the read-through cache.
func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithTokenGenerator overrides the token source.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(m *Manager) {
		if g != nil {
			m.tokens = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager constructs a Manager over store.
func NewManager(cfg Config, store Store, hasher token.Hasher, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  store,
		hasher: hasher,
		tokens: RandomTokens{Bytes: cfg.TokenBytes},
		clock:  clock.System{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession issues a new session for userID.
//
// Insert failures are retried up to cfg.CreateAttempts times, each attempt with a
// fresh token. Exhaustion returns an error wrapping ErrSessionCreateFailed.
func (m *Manager) CreateSession(ctx context.Context, userID int64) (Issued, error) {
	if userID <= 0 {
		return Issued{}, ErrInvalidUser
	}

	var issued Issued
	policy := retry.Policy{Attempts: m.cfg.CreateAttempts, Backoff: m.cfg.CreateBackoff}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			m.metrics.SessionCreateRetried()
		}

		tok, err := m.tokens.NewToken()
		if err != nil {
			return err
		}

		now := m.clock.Now()
		id, err := ids.NewULID(now)
		if err != nil {
			return err
		}
		row := Row{
			ID:        id,
			TokenHash: m.hasher.Hash(tok),
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(m.cfg.TTL),
		}
		if err := m.store.Insert(ctx, row); err != nil {
			m.log.Warn("session.create.attempt_failed", "attempt", attempt, "user_id", userID, "err", err)
			return err
		}

		issued = Issued{Token: tok, Session: sessionFromRow(row)}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Issued{}, err
		}
		m.log.Error("session.create.fail", "user_id", userID, "err", err)
		return Issued{}, fmt.Errorf("%w: %w", ErrSessionCreateFailed, err)
	}

	m.metrics.SessionCreated()
	return issued, nil
}

// ValidateSession resolves tok to a live session.
//
// It fails closed: an empty or unknown token, an expiry at or before now, and
// a store failure all yield false. It never extends the expiry.
func (m *Manager) ValidateSession(ctx context.Context, tok string) (Session, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		m.metrics.SessionValidated("invalid")
		return Session{}, false
	}

	hash := m.hasher.Hash(tok)
	now := m.clock.Now()

	if m.cache != nil {
		row, ok, err := m.cache.Get(ctx, hash)
		switch {
		case errors.Is(err, ErrSessionRevoked):
			m.metrics.SessionValidated("invalid")
			return Session{}, false
		case err != nil:
			m.log.Warn("session.validate.cache_error", "err", err)
		case ok:
			return m.checkExpiry(row, now)
		}
	}

	row, err := m.store.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.metrics.SessionValidated("invalid")
			return Session{}, false
		}
		m.log.Error("session.validate.store_error", "err", err)
		m.metrics.SessionValidated("error")
		return Session{}, false
	}

	s, ok := m.checkExpiry(row, now)
	if ok && m.cache != nil {
		ttl := row.ExpiresAt.Sub(now)
		if m.cfg.CacheTTL < ttl {
			ttl = m.cfg.CacheTTL
		}
		if err := m.cache.Fill(ctx, row, ttl); err != nil {
			m.log.Warn("session.validate.cache_fill_error", "err", err)
		}
	}
	return s, ok
}

func (m *Manager) checkExpiry(row Row, now time.Time) (Session, bool) {
	if !row.ExpiresAt.After(now) {
		m.metrics.SessionValidated("expired")
		return Session{}, false
	}
	m.metrics.SessionValidated("ok")
	return sessionFromRow(row), true
}

// DestroySession deletes the session for tok. Destroying an unknown token is a no-op success.
func (m *Manager) DestroySession(ctx context.Context, tok string) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return ErrInvalidToken
	}

	hash := m.hasher.Hash(tok)

	// The tombstone must outlive any fill racing this call.
	if m.cache != nil {
		if err := m.cache.Revoke(ctx, hash, m.cfg.CacheTTL); err != nil {
			m.log.Warn("session.destroy.cache_error", "err", err)
		}
	}

	removed, err := m.store.DeleteByTokenHash(ctx, hash)
	if err != nil {
		m.log.Error("session.destroy.fail", "err", err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if removed {
		m.metrics.SessionDestroyed()
	}
	return nil
}

// CleanupExpiredSessions removes every session whose expiry is at or before now.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	m.metrics.SessionsSwept(n)
	return n, nil
}

// RunJanitor calls CleanupExpiredSessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.CleanupExpiredSessions(ctx)
			if err != nil {
				m.log.Error("session.janitor.fail", "err", err)
				continue
			}
			if n > 0 {
				m.log.Info("session.janitor.swept", "removed", n)
			}
		}
	}
}

func sessionFromRow(r Row) Session {
	return Session{ID: r.ID, UserID: r.UserID, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt}
}
