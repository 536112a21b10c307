package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/echosphere/escp/internal/auth"
	"github.com/echosphere/escp/internal/observability"
	"github.com/echosphere/escp/internal/protocol"
	"github.com/echosphere/escp/internal/session"
)

// Server is the chat protocol endpoint: accept loop, dispatch, registry,
// broadcast fan-out, and the heartbeat sweep.
type Server struct {
	cfg       Config
	validator auth.Validator
	registry  *registry
	handlers  map[protocol.PacketType]handlerFunc
	commands  map[string]commandFunc

	connsMu sync.Mutex
	conns   map[*conn]struct{}

	clientCount atomic.Int64
	startedAt   time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

type handlerFunc func(*conn, protocol.Packet) error

// conn adapts one accepted socket to the session's Handler contract and
// carries the per-connection policy state.
type conn struct {
	srv     *Server
	sess    *session.Session
	limiter *rate.Limiter
}

// New builds a server from cfg. The handler and command tables are
// fixed at construction; there is no runtime registration.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:       cfg,
		registry:  newRegistry(),
		conns:     make(map[*conn]struct{}),
		startedAt: time.Now(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.validator = pickValidator(cfg)
	s.handlers = map[protocol.PacketType]handlerFunc{
		protocol.TypeHeartbeat: (*conn).handleHeartbeat,
		protocol.TypeLogin:     (*conn).handleLogin,
		protocol.TypeMessage:   (*conn).handleMessage,
		protocol.TypeLogout:    (*conn).handleLogout,
	}
	s.commands = map[string]commandFunc{
		"list": s.cmdList,
		"ping": s.cmdPing,
	}
	return s, nil
}

func pickValidator(cfg Config) auth.Validator {
	switch {
	case strings.TrimSpace(cfg.PasswordHash) != "":
		return auth.BcryptSecret{Hash: strings.TrimSpace(cfg.PasswordHash)}
	case cfg.Password != "":
		return auth.SharedSecret{Secret: cfg.Password}
	default:
		return auth.Open{}
	}
}

// Run blocks serving the chat listener (and the admin plane when
// configured) until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve accepts chat connections on ln until ctx is canceled. It owns
// the heartbeat sweep for its lifetime.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.sweepLoop(sweepCtx)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAllSessions(session.ReasonShutdown)
	}()

	for {
		netConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(netConn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	c := &conn{
		srv:     s,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst),
	}
	c.sess = session.New(netConn, s.cfg.Session, c)
	s.trackConn(c)
	observability.RecordConnectionOpened()
	active := s.clientCount.Add(1)
	log.Info().
		Str("remote", c.sess.RemoteAddr()).
		Str("session_id", c.sess.ID()).
		Int64("active_clients", active).
		Msg("client connected")

	// Server sessions await a Login as their first packet.
	if err := c.sess.BeginAuth(); err != nil {
		c.sess.Close(session.ReasonProtocolViolation)
		return
	}
	c.sess.ReadLoop()
}

// HandlePacket routes one inbound packet to its handler. Response
// packets never arrive here; the session resolves them internally.
func (c *conn) HandlePacket(_ *session.Session, p protocol.Packet) error {
	start := time.Now()
	observability.RecordPacket(p.Type.String(), "in")
	h, ok := c.srv.handlers[p.Type]
	if !ok {
		return fmt.Errorf("server: no handler for %s", p.Type)
	}
	err := h(c, p)
	observability.RecordDispatch(p.Type.String(), time.Since(start))
	return err
}

func (c *conn) SessionClosed(_ *session.Session, reason session.CloseReason) {
	c.srv.onSessionClosed(c, reason)
}

func (c *conn) handleHeartbeat(_ protocol.Packet) error {
	if c.sess.State() != session.StateActive {
		return fmt.Errorf("server: heartbeat before login")
	}
	c.sess.MarkHeartbeat(time.Now())
	return nil
}

func (c *conn) handleLogin(p protocol.Packet) error {
	login, err := protocol.ParseLogin(p)
	if err != nil {
		return err
	}
	if c.sess.State() != session.StateAuthenticating {
		return fmt.Errorf("server: login in state %s", c.sess.State())
	}
	code := c.srv.evaluateLogin(c.sess, login)
	observability.RecordLogin(code.String())
	if code != protocol.CodeOK {
		log.Info().
			Str("remote", c.sess.RemoteAddr()).
			Str("username", login.Username).
			Str("code", code.String()).
			Msg("login rejected")
		if err := c.respond(code); err != nil {
			return err
		}
		c.sess.CloseAfterFlush(session.ReasonLoginRejected)
		return nil
	}
	if err := c.respond(protocol.CodeOK); err != nil {
		return err
	}
	log.Info().
		Str("remote", c.sess.RemoteAddr()).
		Str("username", login.Username).
		Msg("user joined")
	c.srv.broadcastSystem(fmt.Sprintf("User %s has joined!", login.Username), "join", c.sess)
	return nil
}

// evaluateLogin runs the login checks in a fixed order: format, then
// password, then uniqueness. Exactly one code comes out even when
// several checks would fail.
func (s *Server) evaluateLogin(sess *session.Session, login protocol.Login) protocol.ResponseCode {
	if !protocol.ValidUsername(login.Username) {
		return protocol.CodeInvalidUsername
	}
	if err := s.validator.Validate(login.Password); err != nil {
		return protocol.CodeWrongPassword
	}
	if !s.registry.register(login.Username, sess) {
		return protocol.CodeTakenUsername
	}
	if err := sess.Activate(login.Username); err != nil {
		s.registry.remove(login.Username, sess)
		return protocol.CodeGenericError
	}
	observability.RecordSessionRegistered()
	return protocol.CodeOK
}

func (c *conn) handleMessage(p protocol.Packet) error {
	msg, err := protocol.ParseMessage(p)
	if err != nil {
		return err
	}
	if c.sess.State() != session.StateActive {
		return fmt.Errorf("server: message before login")
	}
	username := c.sess.Username()
	if msg.System() {
		// Clients never speak with the server's voice.
		return c.respond(protocol.CodeInvalidMessage)
	}
	if !protocol.ValidMessageText(msg.Text) {
		return c.respond(protocol.CodeInvalidMessage)
	}
	if !c.limiter.Allow() {
		log.Warn().
			Str("username", username).
			Msg("message rate exceeded")
		return c.respond(protocol.CodeGenericError)
	}
	if err := c.respond(protocol.CodeOK); err != nil {
		return err
	}
	if name, args, isCommand := parseCommand(msg.Text); isCommand {
		c.srv.dispatchCommand(c, name, args)
		return nil
	}
	c.srv.broadcastChat(c.sess, username, msg.Text)
	return nil
}

func (c *conn) handleLogout(_ protocol.Packet) error {
	if c.sess.State() != session.StateActive {
		return fmt.Errorf("server: logout before login")
	}
	c.sess.Close(session.ReasonLogout)
	return nil
}

func (c *conn) respond(code protocol.ResponseCode) error {
	return c.srv.deliver(c.sess, protocol.NewResponsePacket(code))
}

// deliver enqueues p for one recipient. Fire-and-forget: a recipient
// that cannot keep up is disconnected rather than allowed to stall the
// fan-out.
func (s *Server) deliver(sess *session.Session, p protocol.Packet) error {
	err := sess.Send(p)
	switch {
	case err == nil:
		observability.RecordPacket(p.Type.String(), "out")
		return nil
	case errors.Is(err, session.ErrSendBacklog):
		log.Warn().
			Str("session_id", sess.ID()).
			Str("username", sess.Username()).
			Msg("send queue full, disconnecting recipient")
		go sess.Close(session.ReasonSendBacklog)
		return err
	default:
		return err
	}
}

func (s *Server) broadcastChat(from *session.Session, sender, text string) {
	pkt, err := protocol.NewMessagePacket(sender, text)
	if err != nil {
		log.Error().Err(err).Msg("build chat broadcast")
		return
	}
	s.fanOut(pkt, from, "chat")
}

func (s *Server) broadcastSystem(text, kind string, except *session.Session) {
	pkt, err := protocol.NewSystemMessagePacket(text)
	if err != nil {
		log.Error().Err(err).Msg("build system broadcast")
		return
	}
	s.fanOut(pkt, except, kind)
}

func (s *Server) fanOut(p protocol.Packet, except *session.Session, kind string) {
	for _, sess := range s.registry.snapshot() {
		if sess == except {
			continue
		}
		_ = s.deliver(sess, p)
	}
	observability.RecordBroadcast(kind)
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepExpired(now)
		}
	}
}

// sweepExpired force-closes registered sessions whose liveness window
// has lapsed. The close funnels through the same path as a logout, so
// the departure broadcast fires exactly once per session.
func (s *Server) sweepExpired(now time.Time) {
	for _, sess := range s.registry.snapshot() {
		if sess.Alive(now) {
			continue
		}
		log.Warn().
			Str("username", sess.Username()).
			Time("last_heartbeat", sess.LastHeartbeat()).
			Msg("heartbeat expired, sweeping session")
		observability.RecordHeartbeatExpiry()
		sess.Close(session.ReasonHeartbeatTimeout)
	}
}

func (s *Server) onSessionClosed(c *conn, reason session.CloseReason) {
	s.untrackConn(c)
	observability.RecordConnectionClosed()
	active := s.clientCount.Add(-1)

	name := c.sess.Username()
	removed := false
	if name != "" {
		removed = s.registry.remove(name, c.sess)
		if removed {
			observability.RecordSessionRemoved()
		}
	}
	log.Info().
		Str("remote", c.sess.RemoteAddr()).
		Str("session_id", c.sess.ID()).
		Str("reason", string(reason)).
		Int64("active_clients", active).
		Msg("client disconnected")

	if !removed {
		return
	}
	if text, ok := departureText(name, reason); ok {
		s.broadcastSystem(text, "leave", nil)
	}
}

// departureText picks the system broadcast for a departing user, or
// none during server shutdown when everyone is leaving at once.
func departureText(name string, reason session.CloseReason) (string, bool) {
	switch reason {
	case session.ReasonLogout:
		return fmt.Sprintf("User %s has left!", name), true
	case session.ReasonShutdown:
		return "", false
	default:
		return fmt.Sprintf("User %s has lost the connection to the server!", name), true
	}
}

func (s *Server) trackConn(c *conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c *conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAllSessions(reason session.CloseReason) {
	s.connsMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		c.sess.Close(reason)
	}
}

// SessionInfo is the admin-plane view of one registered session.
type SessionInfo struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	RemoteAddr    string    `json:"remote_addr"`
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SessionInfos reports the registered sessions, ordered by username.
func (s *Server) SessionInfos() []SessionInfo {
	sessions := s.registry.snapshot()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:            sess.ID(),
			Username:      sess.Username(),
			RemoteAddr:    sess.RemoteAddr(),
			State:         string(sess.State()),
			LastHeartbeat: sess.LastHeartbeat(),
		})
	}
	return out
}

// Stats is the admin-plane snapshot of server counters.
type Stats struct {
	ConnectionsOpen    int64     `json:"connections_open"`
	SessionsRegistered int       `json:"sessions_registered"`
	StartedAt          time.Time `json:"started_at"`
	Uptime             string    `json:"uptime"`
}

func (s *Server) Stats() Stats {
	return Stats{
		ConnectionsOpen:    s.clientCount.Load(),
		SessionsRegistered: s.registry.size(),
		StartedAt:          s.startedAt,
		Uptime:             time.Since(s.startedAt).String(),
	}
}
