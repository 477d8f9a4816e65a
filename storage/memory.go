package storage

import (
	"context"
	"sync"
)

// Memory keeps the token pair in process memory only; everything is lost on
// exit. No encryption is applied.
type Memory struct {
	mu     sync.Mutex
	tokens Tokens
}

var _ TokenStorage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Store(_ context.Context, tokens Tokens) error {
	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context) (Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.tokens = Tokens{}
	m.mu.Unlock()
	return nil
}
