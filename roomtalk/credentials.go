package roomtalk

import "context"

// CredentialProvider supplies the bearer token for a session. The token is
// read once at open time and never refreshed mid-session; if the backend
// later rejects it the session errors and must be re-opened.
type CredentialProvider interface {
	// Token returns the bearer token, or "" when no credential is
	// available. Implementations must not block indefinitely.
	Token(ctx context.Context) (string, error)
}

// StaticToken is a CredentialProvider for a fixed token string.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// TokenFunc adapts a function to a CredentialProvider, e.g. a secure-storage
// lookup on mobile.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }
