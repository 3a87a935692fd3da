package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// TokenStore persists the bearer token between agent restarts.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// Session owns the learner's bearer token. Every collaborator call reads it through
// Token; Invalidate is the only way it is discarded.
type Session struct {
	store TokenStore
	log   zerolog.Logger
	now   func() time.Time

	mu        sync.RWMutex
	token     string
	listeners []func(reason string)
}

// NewSession builds a session around a token store. A nil store keeps the token in memory only.
func NewSession(store TokenStore, log zerolog.Logger) *Session {
	return &Session{
		store: store,
		log:   log.With().Str("component", "auth").Logger(),
		now:   time.Now,
	}
}

// NewSessionWithClock is used by tests that need to control token expiry.
func NewSessionWithClock(store TokenStore, log zerolog.Logger, now func() time.Time) *Session {
	s := NewSession(store, log)
	s.now = now
	return s
}

// Restore loads a previously saved token, if any.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	token, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
	return nil
}

// Set replaces the token after a successful sign-in.
func (s *Session) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, token)
}

// Token returns the bearer token, or false when signed out or past its exp claim.
// An expired token is invalidated on the spot.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return "", false
	}
	if s.expired(token) {
		s.Invalidate("token expired")
		return "", false
	}
	return token, true
}

// Expired reports whether the held token is past its exp claim. A signed-out session counts as expired.
func (s *Session) Expired() bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return token == "" || s.expired(token)
}

// OnInvalidate registers a callback run after the token is discarded.
func (s *Session) OnInvalidate(fn func(reason string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Invalidate discards the token wholesale and notifies listeners so the view returns to sign-in.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	s.log.Info().Str("reason", reason).Msg("authentication invalidated")
	if s.store != nil {
		if err := s.store.Clear(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear stored token")
		}
	}
	for _, fn := range listeners {
		fn(reason)
	}
}

// expired reads the exp claim without verifying the signature; the collaborator verifies.
// Opaque (non-JWT) tokens are never treated as expired here.
func (s *Session) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(claims.ExpiresAt.Time)
}
