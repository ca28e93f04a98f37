package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidSecret is returned by Acquire when the API secret does not
	// match.
	ErrInvalidSecret = errors.New("invalid API secret")
	// ErrSessionClaimed is returned by Acquire while another client holds
	// the session.
	ErrSessionClaimed = errors.New("session already claimed by another client")
)

// SessionManager grants a single session, first come first served. A
// session that sees no activity for the timeout is released and onExpire
// is called.
type SessionManager struct {
	token     string
	origin    string
	ip        string
	apiSecret string
	timeout   time.Duration
	timer     *time.Timer
	onExpire  func()
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewSessionManager creates a session manager. A zero timeout disables
// expiry.
func NewSessionManager(apiSecret string, timeout time.Duration) *SessionManager {
	return &SessionManager{
		apiSecret: apiSecret,
		timeout:   timeout,
		logger:    log.With().Str("component", "session").Logger(),
	}
}

// OnExpire sets the function called after an idle session was released.
func (m *SessionManager) OnExpire(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Acquire claims the session for origin and remoteAddr and returns its token.
func (m *SessionManager) Acquire(secret, origin, remoteAddr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.apiSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(m.apiSecret)) != 1 {
		return "", ErrInvalidSecret
	}
	if m.token != "" {
		return "", ErrSessionClaimed
	}

	token, err := generateSessionToken()
	if err != nil {
		return "", err
	}
	m.token = token
	m.origin = origin
	m.ip = remoteAddr

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.timeout > 0 {
		m.timer = time.AfterFunc(m.timeout, func() { m.expire(token) })
	}

	m.logger.Info().Str("token", token[:8]+"...").Str("origin", origin).Str("ip", remoteAddr).Msg("session acquired")
	return token, nil
}

func (m *SessionManager) expire(token string) {
	m.mu.Lock()
	if m.token != token {
		m.mu.Unlock()
		return
	}
	m.clear()
	onExpire := m.onExpire
	m.mu.Unlock()

	m.logger.Info().Msg("session timeout, token released")
	if onExpire != nil {
		onExpire()
	}
}

// Validate reports whether token is the current session and, when bound,
// matches origin and remoteAddr.
func (m *SessionManager) Validate(token, origin, remoteAddr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == "" || m.token != token {
		return false
	}
	if m.origin != "" && origin != m.origin {
		m.logger.Warn().Str("expected", m.origin).Str("got", origin).Msg("session origin mismatch")
		return false
	}
	if m.ip != "" && remoteAddr != m.ip {
		m.logger.Warn().Str("expected", m.ip).Str("got", remoteAddr).Msg("session address mismatch")
		return false
	}
	return true
}

// Active reports whether a session is claimed.
func (m *SessionManager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != ""
}

// Release ends the current session.
func (m *SessionManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		m.logger.Info().Str("token", m.token[:8]+"...").Msg("session released")
		m.clear()
	}
}

// ReleaseToken ends the session only if token still owns it.
func (m *SessionManager) ReleaseToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != "" && m.token == token {
		m.logger.Info().Str("token", token[:8]+"...").Msg("session released")
		m.clear()
	}
}

func (m *SessionManager) clear() {
	m.token = ""
	m.origin = ""
	m.ip = ""
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// RefreshTimeout restarts the idle timer.
func (m *SessionManager) RefreshTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Reset(m.timeout)
	}
}
