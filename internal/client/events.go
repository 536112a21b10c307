package client

import "github.com/echosphere/escp/internal/session"

// EventKind discriminates what the Events channel carries.
type EventKind string

const (
	// EventMessage is an incoming chat or system message.
	EventMessage EventKind = "message"
	// EventConnectionLost is terminal: the connection is gone and the
	// Events channel closes right after it.
	EventConnectionLost EventKind = "connection_lost"
)

// Event is one item on the stream the UI layer consumes. Sender is
// empty for system messages. Reason is set only on EventConnectionLost
// and distinguishes a logout from a dropped or misbehaving server.
type Event struct {
	Kind   EventKind
	Sender string
	Text   string
	Reason session.CloseReason
}
