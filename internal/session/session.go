// Package session tracks the signed-in user. Questlock works fully
// offline for anonymous users; an empty session simply turns every sync
// trigger into a no-op.
package session

import (
	"log/slog"
	"sync"
)

// Session is the identity used for remote calls.
type Session struct {
	UserID string
	Token  string
}

// Valid reports whether the session can authenticate remote calls.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Token != ""
}

// Manager holds the current session. Constructed once per process,
// replaced on sign-in/sign-out, never accessed through a global.
type Manager struct {
	mu      sync.RWMutex
	current Session
}

// NewManager creates a manager, optionally pre-seeded from config.
func NewManager(initial Session) *Manager {
	return &Manager{current: initial}
}

// Current returns the active session; the second value is false when the
// user is anonymous.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current.Valid()
}

// SignIn installs a new session.
func (m *Manager) SignIn(userID, token string) {
	m.mu.Lock()
	m.current = Session{UserID: userID, Token: token}
	m.mu.Unlock()
	slog.Info("session established", "user_id", userID)
}

// SignOut clears the session. Local data is untouched.
func (m *Manager) SignOut() {
	m.mu.Lock()
	m.current = Session{}
	m.mu.Unlock()
	slog.Info("session cleared")
}
