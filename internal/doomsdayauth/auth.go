// Package doomsdayauth implements the two authentication providers
// the HTTP API supports: an always-pass "none" provider and a
// bcrypt-backed "userpass" provider with UUID session tokens.
package doomsdayauth

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
)

// Provider is the capability the HTTP server needs from an auth
// backend.
type Provider interface {
	Authenticate(username, password string) (token string, expiresAt time.Time, err error)
	ValidateToken(token string) bool
	RevokeToken(token string)
	RequiresAuth() bool
}

// NopProvider never requires authentication; every token validates.
type NopProvider struct{}

func (NopProvider) Authenticate(username, password string) (string, time.Time, error) {
	return "", time.Time{}, doomsdayerr.New(doomsdayerr.Auth, "authentication not required")
}

func (NopProvider) ValidateToken(token string) bool { return true }
func (NopProvider) RevokeToken(token string)        {}
func (NopProvider) RequiresAuth() bool              { return false }

type session struct {
	username  string
	expiresAt time.Time
}

// UserPassProvider authenticates username/password pairs against a
// fixed, bcrypt-hashed user list and hands out UUID session tokens.
type UserPassProvider struct {
	users          map[string]string // username -> bcrypt hash
	sessionTimeout time.Duration
	refreshOnUse   bool

	mu       sync.Mutex
	sessions map[string]session
}

// NewUserPassProvider builds a provider from plaintext users, hashing
// each password with bcrypt's default cost immediately.
func NewUserPassProvider(users map[string]string, sessionTimeout time.Duration, refreshOnUse bool) (*UserPassProvider, error) {
	if len(users) == 0 {
		return nil, doomsdayerr.New(doomsdayerr.Config, "userpass auth requires at least one user")
	}
	if sessionTimeout <= 0 {
		sessionTimeout = time.Hour
	}

	hashed := make(map[string]string, len(users))
	for username, password := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, doomsdayerr.Wrap(doomsdayerr.Auth, fmt.Errorf("hash password for %s: %w", username, err))
		}
		hashed[username] = string(hash)
	}

	return &UserPassProvider{
		users:          hashed,
		sessionTimeout: sessionTimeout,
		refreshOnUse:   refreshOnUse,
		sessions:       make(map[string]session),
	}, nil
}

func (p *UserPassProvider) RequiresAuth() bool { return true }

// Authenticate verifies username/password against the configured
// bcrypt hashes and, on success, mints a new session token.
func (p *UserPassProvider) Authenticate(username, password string) (string, time.Time, error) {
	hash, ok := p.users[username]
	if !ok {
		return "", time.Time{}, doomsdayerr.New(doomsdayerr.Auth, "invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", time.Time{}, doomsdayerr.New(doomsdayerr.Auth, "invalid credentials")
	}

	now := time.Now()
	expiresAt := now.Add(p.sessionTimeout)
	token := uuid.New().String()

	p.mu.Lock()
	p.cleanupExpiredLocked(now)
	p.sessions[token] = session{username: username, expiresAt: expiresAt}
	p.mu.Unlock()

	return token, expiresAt, nil
}

// ValidateToken reports whether token names a live, unexpired
// session, refreshing its expiry if the provider is configured to do
// so.
func (p *UserPassProvider) ValidateToken(token string) bool {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupExpiredLocked(now)

	sess, ok := p.sessions[token]
	if !ok {
		return false
	}
	if sess.expiresAt.Before(now) {
		delete(p.sessions, token)
		return false
	}

	if p.refreshOnUse {
		sess.expiresAt = now.Add(p.sessionTimeout)
		p.sessions[token] = sess
	}
	return true
}

// RevokeToken immediately invalidates a token; a ValidateToken call
// made right after always returns false.
func (p *UserPassProvider) RevokeToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, token)
}

func (p *UserPassProvider) cleanupExpiredLocked(now time.Time) {
	for token, sess := range p.sessions {
		if sess.expiresAt.Before(now) {
			delete(p.sessions, token)
		}
	}
}
