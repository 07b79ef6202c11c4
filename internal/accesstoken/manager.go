// Package accesstoken issues short-lived, single-use tokens bound to a
// client IP. A websocket upgrade must present the token issued to its IP.
package accesstoken

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/voicebridge/internal/logging"
)

const (
	// DefaultExpiry is how long an unused token stays valid.
	DefaultExpiry = 5 * time.Minute

	tokenBytes      = 32
	cleanupInterval = time.Minute
)

type token struct {
	value     string
	expiresAt time.Time
}

// Manager holds at most one outstanding token per IP.
type Manager struct {
	scope  string
	expiry time.Duration
	now    func() time.Time
	log    *logging.Logger

	mu          sync.Mutex
	tokens      map[string]token // ip → token
	lastCleanup time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a manager for scope. A non-positive expiry selects DefaultExpiry.
func New(scope string, expiry time.Duration, log *logging.Logger, opts ...Option) *Manager {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	m := &Manager{
		scope:  scope,
		expiry: expiry,
		now:    time.Now,
		log:    log.Sub("accesstoken").With("scope", scope),
		tokens: make(map[string]token),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastCleanup = m.now()
	return m
}

// Scope names the endpoint family the tokens are valid for.
func (m *Manager) Scope() string { return m.scope }

// Generate issues a new token for ip, replacing any outstanding one.
func (m *Manager) Generate(ip string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating access token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	m.tokens[ip] = token{value: value, expiresAt: m.now().Add(m.expiry)}
	m.log.Debug().Str("ip", ip).Msg("access token issued")
	return value, nil
}

// Validate reports whether value is the live token for ip. A valid token is
// consumed; an expired one is discarded.
func (m *Manager) Validate(ip, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()

	t, ok := m.tokens[ip]
	if !ok {
		return false
	}
	if t.expiresAt.Before(m.now()) {
		delete(m.tokens, ip)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(t.value), []byte(value)) != 1 {
		return false
	}
	delete(m.tokens, ip)
	return true
}

// Revoke discards the token issued to ip, if any.
func (m *Manager) Revoke(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, ip)
}

// Len returns the number of outstanding tokens.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// cleanupLocked drops expired tokens at most once per cleanupInterval.
func (m *Manager) cleanupLocked() {
	now := m.now()
	if now.Sub(m.lastCleanup) < cleanupInterval {
		return
	}
	removed := 0
	for ip, t := range m.tokens {
		if t.expiresAt.Before(now) {
			delete(m.tokens, ip)
			removed++
		}
	}
	m.lastCleanup = now
	if removed > 0 {
		m.log.Debug().Int("removed", removed).Msg("expired access tokens cleaned up")
	}
}
