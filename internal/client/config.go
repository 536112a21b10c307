package client

import (
	"errors"
	"strings"
	"time"

	"github.com/echosphere/escp/internal/session"
)

// Config carries everything a client needs to reach a chat server.
type Config struct {
	// Addr is the host:port of the chat server.
	Addr string

	// DialTimeout caps a single connection attempt.
	DialTimeout time.Duration

	// MaxDialAttempts bounds the whole retry sequence.
	MaxDialAttempts int

	// Backoff paces the retries between attempts.
	Backoff session.BackoffConfig

	// EventBuffer is the capacity of the Events channel. A consumer
	// that lags past it loses events instead of stalling the read loop.
	EventBuffer int

	// Session carries the connection knobs. ReadTimeout stays zero on
	// clients: an idle chat room is not an error.
	Session session.Config
}

// DefaultConfig returns the standard client profile.
func DefaultConfig() Config {
	return Config{
		DialTimeout:     5 * time.Second,
		MaxDialAttempts: 5,
		Backoff:         session.DefaultBackoff(),
		EventBuffer:     64,
		Session:         session.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = def.MaxDialAttempts
	}
	if c.Backoff == (session.BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	c.Session = c.Session.WithDefaults()
	return c
}

// Validate rejects configurations that cannot reach or survive a server.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("client: server address required")
	}
	return c.Session.Validate()
}
