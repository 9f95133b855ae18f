package stackai

import (
	"sync"

	"golang.org/x/oauth2"
)

// Session holds the access token for one user session. It is an
// oauth2.TokenSource so the HTTP transport can inject the bearer header.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession creates a session, optionally seeded with a stored token
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Token implements oauth2.TokenSource
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return nil, ErrAuthRequired
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

// SetToken replaces the access token
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// AccessToken returns the raw token
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a token is present
func (s *Session) Authenticated() bool {
	return s.AccessToken() != ""
}

// Clear drops the token
func (s *Session) Clear() {
	s.SetToken("")
}
