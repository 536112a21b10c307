package session

import (
	"fmt"
	"math/rand"
	"time"
)

// Config carries the timing and queue knobs for one connection. The
// zero value is usable: WithDefaults fills everything except
// ReadTimeout, where zero means no read deadline at all.
type Config struct {
	// ReadTimeout bounds one blocking read. Servers set it above the
	// liveness window as a backstop against peers that never send
	// anything; clients usually leave it at zero.
	ReadTimeout time.Duration

	// WriteTimeout bounds one packet write on the wire.
	WriteTimeout time.Duration

	// HeartbeatInterval is the cadence of the client-side heartbeat
	// emitter. It must stay below LivenessWindow or the server will
	// sweep the session as dead.
	HeartbeatInterval time.Duration

	// LivenessWindow is how long a peer may stay completely silent
	// before it is presumed gone.
	LivenessWindow time.Duration

	// AwaitTimeout bounds one request/response exchange.
	AwaitTimeout time.Duration

	// SendQueueLen is the depth of the per-session outbound queue. A
	// peer that lets the queue fill up is disconnected rather than
	// allowed to stall everyone else.
	SendQueueLen int
}

// DefaultConfig returns the standard timing profile.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:      15 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		LivenessWindow:    15 * time.Second,
		AwaitTimeout:      15 * time.Second,
		SendQueueLen:      64,
	}
}

// WithDefaults fills zero fields from DefaultConfig. ReadTimeout is
// left as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = def.LivenessWindow
	}
	if c.AwaitTimeout <= 0 {
		c.AwaitTimeout = def.AwaitTimeout
	}
	if c.SendQueueLen <= 0 {
		c.SendQueueLen = def.SendQueueLen
	}
	return c
}

// Validate rejects combinations the protocol cannot survive.
func (c Config) Validate() error {
	c = c.WithDefaults()
	if c.HeartbeatInterval >= c.LivenessWindow {
		return fmt.Errorf("session: heartbeat interval %v must stay below liveness window %v", c.HeartbeatInterval, c.LivenessWindow)
	}
	return nil
}

// BackoffConfig shapes retry delays for outbound dialers.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoff returns the dial retry profile.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NextBackoffDelay computes the delay before retry attempt n (1-based).
// Growth is geometric, capped at MaxDelay; jitter spreads delays across
// [delay/2, delay) so a burst of dialers does not reconnect in step.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.Multiplier
		if delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if cfg.Jitter && rng != nil {
		half := delay / 2
		delay = half + rng.Float64()*half
	}
	return time.Duration(delay)
}
