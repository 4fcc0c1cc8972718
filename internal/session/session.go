package session

import (
	"sync"
	"time"

	"whisperd/internal/util/memzero"
)

const (
	// MaxFails is the number of failed attempts before a lockout arms.
	MaxFails = 10
	// LockoutDuration is how long an armed lockout rejects attempts.
	LockoutDuration = 60 * time.Second
)

// Session is the per-connection authentication state. All methods are safe
// for concurrent use.
type Session struct {
	mu           sync.Mutex
	loggedIn     bool
	username     string
	pendingUser  string
	challenge    []byte
	loginFails   int
	lockoutStart time.Time
}

// SetPendingUser records which account a challenge was issued for.
func (s *Session) SetPendingUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingUser = username
}

// PendingUser returns the account the last challenge was issued for.
func (s *Session) PendingUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingUser
}

// SetChallenge stores the expected challenge response, replacing (and
// wiping) any previous one.
func (s *Session) SetChallenge(expected string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	memzero.Zero(s.challenge)
	s.challenge = []byte(expected)
}

// TakeChallenge returns the pending expected response and wipes it. A
// challenge can only be answered once.
func (s *Session) TakeChallenge() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil {
		return "", false
	}
	out := string(s.challenge)
	memzero.Zero(s.challenge)
	s.challenge = nil
	return out, true
}

// Authenticate marks the session as logged in under username and clears
// the failure counter.
func (s *Session) Authenticate(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.username = username
	s.loginFails = 0
	s.lockoutStart = time.Time{}
}

// User returns the logged-in username, or false if the session is
// unauthenticated.
func (s *Session) User() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.loggedIn
}

// AddFail records a failed attempt and returns the new count.
func (s *Session) AddFail() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginFails++
	return s.loginFails
}

// StartLockout arms the lockout window from now. The failure counter is
// untouched; only a successful login clears it, so failures after the
// window expires re-arm it immediately.
func (s *Session) StartLockout(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockoutStart = now
}

// InLockout reports whether an armed lockout is still active at now.
func (s *Session) InLockout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockoutStart.IsZero() {
		return false
	}
	return now.Sub(s.lockoutStart) < LockoutDuration
}

// Registry tracks sessions by connection id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for the connection, creating it on first use.
func (r *Registry) Get(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		s = &Session{}
		r.sessions[connID] = s
	}
	return s
}

// Remove drops the connection's session, wiping any pending challenge.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[connID]; ok {
		memzero.Zero(s.challenge)
		delete(r.sessions, connID)
	}
}
