// Package client is the connecting side of the chat protocol: it dials,
// logs in, keeps the heartbeat going, and turns inbound packets into an
// event stream for a UI layer to consume. Requests go through the
// session's single-in-flight gate, so a second Login or SendMessage
// while one is pending fails fast instead of queueing.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/echosphere/escp/internal/protocol"
	"github.com/echosphere/escp/internal/session"
)

var (
	// ErrInvalidMessage rejects text locally before any wire traffic.
	ErrInvalidMessage = errors.New("client: invalid message text")
	// ErrNotLoggedIn rejects messages sent before login succeeds.
	ErrNotLoggedIn = errors.New("client: not logged in")
	// ErrAlreadyLoggedIn rejects a second login on a live session.
	ErrAlreadyLoggedIn = errors.New("client: already logged in")
)

// Client orchestrates one connection to a chat server.
type Client struct {
	cfg    Config
	sess   *session.Session
	events chan Event

	hbStarted bool
}

// Dial connects to cfg.Addr, retrying with backoff until an attempt
// succeeds or the budget runs out. The returned client is connected but
// not yet logged in.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxDialAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
		if err == nil {
			return newClient(conn, cfg), nil
		}
		lastErr = err
		if attempt == cfg.MaxDialAttempts {
			break
		}
		delay := session.NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().
			Str("addr", cfg.Addr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("dial failed, backing off")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("client: dial %s after %d attempts: %w", cfg.Addr, cfg.MaxDialAttempts, lastErr)
}

func newClient(conn net.Conn, cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		events: make(chan Event, cfg.EventBuffer),
	}
	c.sess = session.New(conn, cfg.Session, c)
	go c.sess.ReadLoop()
	return c
}

// Login authenticates as username and, on OK, starts the heartbeat
// emitter. A non-OK code is returned without error; the server tears
// the connection down right after flushing it.
func (c *Client) Login(ctx context.Context, username, password string) (protocol.ResponseCode, error) {
	pkt, err := protocol.NewLoginPacket(username, password)
	if err != nil {
		return 0, err
	}
	switch c.sess.State() {
	case session.StateConnecting:
		if err := c.sess.BeginAuth(); err != nil {
			return 0, err
		}
	case session.StateAuthenticating:
		// A rejected attempt leaves the session here until the server
		// hangs up; retrying in the gap just fails with the close.
	case session.StateActive:
		return 0, ErrAlreadyLoggedIn
	default:
		return 0, session.ErrConnectionClosed
	}
	code, err := c.sess.SendRequestAndAwait(ctx, pkt)
	if err != nil {
		return 0, err
	}
	if code != protocol.CodeOK {
		return code, nil
	}
	if err := c.sess.Activate(username); err != nil {
		return code, err
	}
	log.Info().
		Str("addr", c.cfg.Addr).
		Str("username", username).
		Msg("logged in")
	if !c.hbStarted {
		c.hbStarted = true
		go c.heartbeatLoop()
	}
	return code, nil
}

// SendMessage submits text and waits for the server's verdict. Invalid
// text is refused locally, without wire traffic. The delimiter cannot
// be escaped on the wire, so it is invalid in text.
func (c *Client) SendMessage(ctx context.Context, text string) (protocol.ResponseCode, error) {
	if c.sess.State() != session.StateActive {
		return 0, ErrNotLoggedIn
	}
	if !protocol.ValidMessageText(text) || strings.ContainsRune(text, '|') {
		return 0, ErrInvalidMessage
	}
	pkt, err := protocol.NewMessagePacket(c.sess.Username(), text)
	if err != nil {
		return 0, err
	}
	return c.sess.SendRequestAndAwait(ctx, pkt)
}

// Logout announces departure and closes once the notice has flushed.
// Safe to call on a session that is already gone.
func (c *Client) Logout() error {
	switch err := c.sess.Send(protocol.NewLogoutPacket()); {
	case err == nil:
		c.sess.CloseAfterFlush(session.ReasonLogout)
		return nil
	case errors.Is(err, session.ErrConnectionClosed):
		return nil
	default:
		c.sess.Close(session.ReasonLogout)
		return err
	}
}

// Close drops the connection without the logout exchange.
func (c *Client) Close() {
	c.sess.Close(session.ReasonShutdown)
}

// Events returns the inbound stream. It delivers Message events while
// the connection lives, then one ConnectionLost event, then closes.
func (c *Client) Events() <-chan Event { return c.events }

// Username returns the logged-in identity, empty before login.
func (c *Client) Username() string { return c.sess.Username() }

// Done is closed when the connection has been torn down.
func (c *Client) Done() <-chan struct{} { return c.sess.Done() }

// HandlePacket implements session.Handler for the client side: chat and
// system messages become events, anything else the server has no
// business sending tears the connection down.
func (c *Client) HandlePacket(_ *session.Session, p protocol.Packet) error {
	switch p.Type {
	case protocol.TypeMessage:
		msg, err := protocol.ParseMessage(p)
		if err != nil {
			return err
		}
		c.emit(Event{Kind: EventMessage, Sender: msg.Sender, Text: msg.Text})
		return nil
	case protocol.TypeHeartbeat:
		// Tolerated: liveness is the server's bookkeeping, not ours.
		return nil
	case protocol.TypeLogout:
		c.sess.Close(session.ReasonPeerClosed)
		return nil
	default:
		return fmt.Errorf("client: unexpected %s packet", p.Type)
	}
}

// SessionClosed implements session.Handler: it emits the terminal event
// and closes the stream.
func (c *Client) SessionClosed(_ *session.Session, reason session.CloseReason) {
	c.emit(Event{Kind: EventConnectionLost, Reason: reason})
	close(c.events)
}

// emit never blocks the read loop: a consumer that stops draining loses
// events rather than wedging the protocol.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().
			Str("kind", string(ev.Kind)).
			Msg("event buffer full, dropping event")
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sess.Done():
			return
		case <-ticker.C:
			if err := c.sess.Send(protocol.NewHeartbeatPacket()); err != nil {
				return
			}
		}
	}
}
