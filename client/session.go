package client

import (
	"net/http"
	"strings"
	"sync"
)

// Session holds the bearer token shared by the calls of one or more clients.
// A token is attached to every request while set and is dropped once a call
// to auth/enable or auth/disable succeeds, since both invalidate it on the
// server.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession returns a session seeded with token (which may be empty).
func NewSession(token string) *Session {
	return &Session{token: strings.TrimSpace(token)}
}

// Token returns the current token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Active reports whether a token is set.
func (s *Session) Active() bool { return s.Token() != "" }

// Set replaces the token.
func (s *Session) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

// Clear drops the token.
func (s *Session) Clear() { s.Set("") }

// Apply adds the token header to h when a token is set.
func (s *Session) Apply(h http.Header) {
	if token := s.Token(); token != "" {
		h.Set(HeaderToken, token)
	}
}

// Observe records a successful call to path and reports whether it cleared
// the token.
func (s *Session) Observe(path string) bool {
	switch path {
	case PathAuthEnable, PathAuthDisable:
	default:
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.token != ""
	s.token = ""
	return had
}
