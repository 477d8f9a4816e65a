package storage

import (
	"context"
	"sync"
)

// SessionOnly is the web-mode backend: it holds the access token for the
// lifetime of the process and never stores a refresh token. Refreshing works
// by sending an empty refresh request and relying on the HttpOnly cookie the
// HTTP transport's cookie jar already attaches, so Get always reports an
// empty refresh token.
type SessionOnly struct {
	mu          sync.Mutex
	accessToken string
}

var _ TokenStorage = (*SessionOnly)(nil)

func NewSessionOnly() *SessionOnly {
	return &SessionOnly{}
}

func (s *SessionOnly) Store(_ context.Context, tokens Tokens) error {
	s.mu.Lock()
	s.accessToken = tokens.AccessToken
	s.mu.Unlock()
	return nil
}

func (s *SessionOnly) Get(_ context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Tokens{AccessToken: s.accessToken}, nil
}

func (s *SessionOnly) Clear(_ context.Context) error {
	s.mu.Lock()
	s.accessToken = ""
	s.mu.Unlock()
	return nil
}
