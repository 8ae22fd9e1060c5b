package roomtalk

import "time"

// Config controls how a session connects to the backend.
type Config struct {
	// BaseURL is the http(s) origin of the backend, e.g. "https://chat.example.com".
	BaseURL string

	// SocketURL is the ws(s) origin for room sockets. When empty it is
	// derived from BaseURL (http -> ws, https -> wss).
	SocketURL string

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// HistoryTimeout bounds the backlog fetch; on expiry the session
	// proceeds with live traffic only.
	HistoryTimeout time.Duration

	// ResolveImages controls whether image events get their assets fetched
	// automatically. Disable for headless consumers that only need captions.
	ResolveImages bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      0, // live sockets stay silent for long stretches
		WriteTimeout:     10 * time.Second,
		HistoryTimeout:   15 * time.Second,
		ResolveImages:    true,
	}
}
