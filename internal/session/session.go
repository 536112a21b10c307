package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/echosphere/escp/internal/protocol"
)

// State tracks where a connection is in its lifecycle.
type State string

const (
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateClosing        State = "closing"
	StateClosed         State = "closed"
)

// CloseReason records why a session ended. Owners use it to decide what
// to tell the rest of the world (departure broadcasts, client events).
type CloseReason string

const (
	ReasonProtocolViolation CloseReason = "protocol_violation"
	ReasonHeartbeatTimeout  CloseReason = "heartbeat_timeout"
	ReasonLogout            CloseReason = "logout"
	ReasonLoginRejected     CloseReason = "login_rejected"
	ReasonPeerClosed        CloseReason = "peer_closed"
	ReasonAwaitTimeout      CloseReason = "await_timeout"
	ReasonSendBacklog       CloseReason = "send_backlog"
	ReasonSendFailure       CloseReason = "send_failure"
	ReasonShutdown          CloseReason = "shutdown"
)

var (
	ErrRequestInFlight  = errors.New("session: request already in flight")
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrAwaitTimeout     = errors.New("session: timed out awaiting response")
	ErrSendBacklog      = errors.New("session: outbound queue full")
	ErrBadTransition    = errors.New("session: invalid state transition")
)

// Handler receives inbound traffic and the close notice for one
// session. Response packets never reach HandlePacket: they resolve the
// outstanding request inside the session itself. A HandlePacket error
// is treated as a protocol violation and tears the session down.
type Handler interface {
	HandlePacket(s *Session, p protocol.Packet) error
	SessionClosed(s *Session, reason CloseReason)
}

// Session owns one TCP connection. A single writer goroutine drains the
// outbound queue so packets leave the socket in enqueue order no matter
// how many goroutines send; ReadLoop delivers inbound packets one at a
// time in wire order.
type Session struct {
	id      string
	conn    net.Conn
	cfg     Config
	handler Handler

	mu            sync.Mutex
	state         State
	username      string
	lastHeartbeat time.Time
	pending       chan protocol.ResponseCode
	reason        CloseReason
	drainReason   CloseReason

	out       chan protocol.Packet
	drain     chan struct{}
	drainOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// New wraps conn and starts its writer. The caller runs ReadLoop to
// pump inbound packets, typically on its own goroutine.
func New(conn net.Conn, cfg Config, h Handler) *Session {
	cfg = cfg.WithDefaults()
	s := &Session{
		id:            uuid.NewString(),
		conn:          conn,
		cfg:           cfg,
		handler:       h,
		state:         StateConnecting,
		lastHeartbeat: time.Now(),
		out:           make(chan protocol.Packet, cfg.SendQueueLen),
		drain:         make(chan struct{}),
		closed:        make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// ID returns the server-side identity of this connection.
func (s *Session) ID() string { return s.id }

// RemoteAddr reports the peer address for logging.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the bound identity, empty until Activate.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// CloseReason returns the recorded teardown reason, empty while the
// session is still live.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// BeginAuth moves a fresh connection into the login exchange.
func (s *Session) BeginAuth() error {
	return s.transition(StateConnecting, StateAuthenticating)
}

// Activate binds username and enters Active after a successful login.
func (s *Session) Activate(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticating {
		return fmt.Errorf("%w: activate from %s", ErrBadTransition, s.state)
	}
	s.state = StateActive
	s.username = username
	return nil
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrBadTransition, from, to, s.state)
	}
	s.state = to
	return nil
}

// MarkHeartbeat records proof of life. The stamp never moves backwards,
// so out-of-order bookkeeping cannot shrink the liveness window.
func (s *Session) MarkHeartbeat(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastHeartbeat) {
		s.lastHeartbeat = at
	}
}

// LastHeartbeat returns the most recent proof of life.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Alive reports whether the peer has proven liveness within the window.
func (s *Session) Alive(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat) <= s.cfg.LivenessWindow
}

// Send enqueues p for ordered delivery on this socket. It never blocks:
// a full queue means this peer cannot keep up, and the caller decides
// whether that costs the peer its connection.
func (s *Session) Send(p protocol.Packet) error {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return ErrConnectionClosed
	}
	s.mu.Unlock()

	select {
	case <-s.closed:
		return ErrConnectionClosed
	case s.out <- p:
		return nil
	default:
		return ErrSendBacklog
	}
}

// SendRequestAndAwait transmits a request packet and suspends the
// caller until the matching Response arrives, the await times out, or
// the session dies. Only one request may be outstanding per session: a
// concurrent attempt fails immediately with ErrRequestInFlight and
// transmits nothing. An await timeout is fatal to the session.
func (s *Session) SendRequestAndAwait(ctx context.Context, p protocol.Packet) (protocol.ResponseCode, error) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	if s.pending != nil {
		s.mu.Unlock()
		return 0, ErrRequestInFlight
	}
	resolve := make(chan protocol.ResponseCode, 1)
	s.pending = resolve
	s.mu.Unlock()

	if err := s.Send(p); err != nil {
		s.clearPending()
		return 0, err
	}

	timer := time.NewTimer(s.cfg.AwaitTimeout)
	defer timer.Stop()

	select {
	case code := <-resolve:
		return code, nil
	case <-timer.C:
		s.clearPending()
		s.Close(ReasonAwaitTimeout)
		return 0, ErrAwaitTimeout
	case <-ctx.Done():
		s.clearPending()
		return 0, ctx.Err()
	case <-s.closed:
		return 0, fmt.Errorf("%w: %s", ErrConnectionClosed, s.CloseReason())
	}
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// resolvePending completes the outstanding request, reporting whether
// one existed. The resolve channel is buffered, so a racing timeout on
// the awaiting side cannot strand the reader.
func (s *Session) resolvePending(code protocol.ResponseCode) bool {
	s.mu.Lock()
	resolve := s.pending
	s.pending = nil
	s.mu.Unlock()
	if resolve == nil {
		return false
	}
	resolve <- code
	return true
}

// ReadLoop pumps inbound packets until the session dies. Responses
// resolve the outstanding request; everything else goes to the handler,
// one packet at a time, in wire order. An unsolicited Response is a
// protocol violation.
func (s *Session) ReadLoop() {
	reader := bufio.NewReader(s.conn)
	for {
		if st := s.State(); st == StateClosing || st == StateClosed {
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		pkt, err := protocol.ReadPacket(reader)
		if err != nil {
			s.closeOnReadError(err)
			return
		}
		if pkt.Type == protocol.TypeResponse {
			code, perr := protocol.ParseResponse(pkt)
			if perr != nil || !s.resolvePending(code) {
				log.Warn().
					Str("session_id", s.id).
					Msg("session.ReadLoop unsolicited response")
				s.Close(ReasonProtocolViolation)
				return
			}
			continue
		}
		if herr := s.handler.HandlePacket(s, pkt); herr != nil {
			log.Debug().
				Str("session_id", s.id).
				Str("packet", pkt.Type.String()).
				Err(herr).
				Msg("session.ReadLoop handler rejected packet")
			s.Close(ReasonProtocolViolation)
			return
		}
	}
}

func (s *Session) closeOnReadError(err error) {
	var nerr net.Error
	switch {
	case protocol.IsWireError(err):
		log.Warn().
			Str("session_id", s.id).
			Str("remote", s.RemoteAddr()).
			Err(err).
			Msg("session.ReadLoop wire violation")
		s.Close(ReasonProtocolViolation)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.Close(ReasonPeerClosed)
	case errors.As(err, &nerr) && nerr.Timeout():
		s.Close(ReasonHeartbeatTimeout)
	default:
		s.Close(ReasonPeerClosed)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case p := <-s.out:
			if err := s.writePacket(p); err != nil {
				log.Debug().
					Str("session_id", s.id).
					Err(err).
					Msg("session.writeLoop send failed")
				s.Close(ReasonSendFailure)
				return
			}
		case <-s.drain:
			s.drainAndClose()
			return
		case <-s.closed:
			return
		}
	}
}

// drainAndClose flushes whatever is already queued, then tears down
// with the reason recorded by CloseAfterFlush.
func (s *Session) drainAndClose() {
	for {
		select {
		case p := <-s.out:
			if err := s.writePacket(p); err != nil {
				s.Close(ReasonSendFailure)
				return
			}
		default:
			s.mu.Lock()
			reason := s.drainReason
			s.mu.Unlock()
			s.Close(reason)
			return
		}
	}
}

func (s *Session) writePacket(p protocol.Packet) error {
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return protocol.WritePacket(s.conn, p)
}

// CloseAfterFlush lets already-queued packets reach the wire before the
// socket closes. Used when a final response must beat the teardown, as
// with a rejected login. New sends are refused from this point on.
func (s *Session) CloseAfterFlush(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.drainReason = reason
	s.mu.Unlock()

	s.drainOnce.Do(func() { close(s.drain) })
}

// Close tears the session down exactly once: pending awaits fail with
// ErrConnectionClosed, the socket closes, and the handler hears
// SessionClosed with the reason of whichever teardown won. Subsequent
// calls are no-ops, so sweep, logout, read errors, and shutdown can all
// race here safely.
func (s *Session) Close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		s.reason = reason
		s.pending = nil
		s.mu.Unlock()

		close(s.closed)
		_ = s.conn.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		log.Debug().
			Str("session_id", s.id).
			Str("reason", string(reason)).
			Msg("session closed")
		s.handler.SessionClosed(s, reason)
	})
}
