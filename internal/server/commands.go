package server

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/echosphere/escp/internal/observability"
	"github.com/echosphere/escp/internal/protocol"
)

// commandFunc handles one slash command for the issuing connection.
// Replies go only to the sender, as system messages.
type commandFunc func(c *conn, args []string)

// parseCommand splits "/name arg1 arg2" into its parts. isCommand is
// false for plain chat text. Command names are case-insensitive.
func parseCommand(text string) (name string, args []string, isCommand bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "", nil, true
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// dispatchCommand runs a parsed command. The OK response for the
// carrying message has already been sent; command output never reaches
// the broadcast path.
func (s *Server) dispatchCommand(c *conn, name string, args []string) {
	cmd, ok := s.commands[name]
	if !ok {
		observability.RecordCommand("unknown")
		log.Debug().
			Str("username", c.sess.Username()).
			Str("command", name).
			Msg("unknown command")
		s.replySystem(c, "Invalid command!")
		return
	}
	observability.RecordCommand(name)
	cmd(c, args)
}

func (s *Server) cmdList(c *conn, _ []string) {
	s.replySystem(c, "Connected users: "+strings.Join(s.registry.names(), ", "))
}

func (s *Server) cmdPing(c *conn, _ []string) {
	s.replySystem(c, s.pickPong())
}

func (s *Server) pickPong() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.cfg.PongMessages[s.rng.Intn(len(s.cfg.PongMessages))]
}

func (s *Server) replySystem(c *conn, text string) {
	pkt, err := protocol.NewSystemMessagePacket(text)
	if err != nil {
		log.Error().Err(err).Msg("build system reply")
		return
	}
	_ = s.deliver(c.sess, pkt)
}
