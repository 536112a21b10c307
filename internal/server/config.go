package server

import (
	"strings"
	"time"

	"github.com/echosphere/escp/internal/session"
)

// Config configures one chat server instance.
type Config struct {
	// ListenAddr is the TCP address of the chat protocol listener.
	ListenAddr string

	// AdminListenAddr enables the HTTP admin plane when non-empty.
	AdminListenAddr string

	// Password guards logins when non-empty. Empty means the server
	// runs open and accepts any password.
	Password string

	// PasswordHash is a bcrypt alternative to Password and wins when
	// both are set.
	PasswordHash string

	// PongMessages feed the /ping command. Empty falls back to the
	// built-in set.
	PongMessages []string

	// CORSOrigins allowed on the admin plane.
	CORSOrigins []string

	// SweepInterval is the cadence of the heartbeat sweep. It must stay
	// at or below the liveness window so dead sessions are noticed on
	// time.
	SweepInterval time.Duration

	// MessageRate and MessageBurst bound how fast one session may send
	// messages before it starts collecting generic errors.
	MessageRate  float64
	MessageBurst int

	Session session.Config
}

// DefaultConfig returns the standard server profile.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":12300",
		PongMessages:  defaultPongMessages(),
		SweepInterval: 5 * time.Second,
		MessageRate:   10,
		MessageBurst:  20,
		Session:       session.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if len(c.PongMessages) == 0 {
		c.PongMessages = def.PongMessages
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.MessageRate <= 0 {
		c.MessageRate = def.MessageRate
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = def.MessageBurst
	}
	c.Session = c.Session.WithDefaults()
	if c.Session.ReadTimeout <= 0 {
		// Backstop for sockets that never log in and therefore never
		// reach the heartbeat sweep.
		c.Session.ReadTimeout = c.Session.LivenessWindow + 5*time.Second
	}
	return c
}

func defaultPongMessages() []string {
	return []string{
		"Pong!",
		"Pong. Pong. Pong.",
		"You rang?",
		"Still here, still listening.",
		"Loud and clear!",
	}
}
