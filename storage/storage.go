// Package storage provides the pluggable token persistence backends used by
// the session manager: process memory, session-only (cookie-managed refresh),
// AES-GCM encrypted persistent storage over a generic key/value backend, and
// the OS keystore.
package storage

import "context"

// Tokens is the persisted token pair. Either field may be empty: a missing
// refresh token is normal in session-only/web mode.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// IsEmpty reports whether nothing is stored.
func (t Tokens) IsEmpty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// TokenStorage is the contract every backend satisfies. All operations are
// idempotent; "nothing stored" is reported through zero values, never an
// error.
type TokenStorage interface {
	Store(ctx context.Context, tokens Tokens) error
	Get(ctx context.Context) (Tokens, error)
	Clear(ctx context.Context) error
}

// Logger mirrors the SDK logging surface so backends can warn about
// self-healed corruption without importing the root package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
