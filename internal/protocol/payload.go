package protocol

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageChars bounds the text part of a Message payload, counted in
// characters rather than bytes.
const MaxMessageChars = 1000

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]{3,12}$`)

// ValidUsername reports whether name is 3-12 alphanumeric characters.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// ValidMessageText reports whether text is 1-1000 characters.
func ValidMessageText(text string) bool {
	n := utf8.RuneCountInString(text)
	return n >= 1 && n <= MaxMessageChars
}

// Login is the decoded payload of a Login packet.
type Login struct {
	Username string
	Password string
}

// Message is the decoded payload of a Message packet. An empty Sender
// marks a system message; only the server may originate those.
type Message struct {
	Sender string
	Text   string
}

// System reports whether m is a server-originated system message.
func (m Message) System() bool {
	return m.Sender == ""
}

// NewLoginPacket builds a Login request. Username format is not checked
// here: the server answers bad formats with INVALID_USERNAME, so the
// packet must be expressible on the wire.
func NewLoginPacket(username, password string) (Packet, error) {
	p := Packet{Type: TypeLogin, Payload: []byte(username + "|" + password)}
	if err := ValidatePayload(p.Type, p.Payload); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// NewMessagePacket builds a chat Message from sender to everyone.
// The delimiter character cannot appear in either part.
func NewMessagePacket(sender, text string) (Packet, error) {
	if strings.ContainsRune(sender, '|') || strings.ContainsRune(text, '|') {
		return Packet{}, fmt.Errorf("%w: delimiter not allowed in sender or text", ErrInvalidPayload)
	}
	p := Packet{Type: TypeMessage, Payload: []byte(sender + "|" + text)}
	if err := ValidatePayload(p.Type, p.Payload); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// NewSystemMessagePacket builds a server-originated Message with the
// empty sender.
func NewSystemMessagePacket(text string) (Packet, error) {
	return NewMessagePacket("", text)
}

// NewResponsePacket builds the single-byte Response for code.
func NewResponsePacket(code ResponseCode) Packet {
	return Packet{Type: TypeResponse, Payload: []byte{byte(code)}}
}

// NewHeartbeatPacket builds the empty liveness packet.
func NewHeartbeatPacket() Packet {
	return Packet{Type: TypeHeartbeat}
}

// NewLogoutPacket builds the empty logout notice.
func NewLogoutPacket() Packet {
	return Packet{Type: TypeLogout}
}

// ParseLogin extracts the username/password pair from a Login packet.
func ParseLogin(p Packet) (Login, error) {
	if p.Type != TypeLogin {
		return Login{}, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, TypeLogin, p.Type)
	}
	if err := ValidatePayload(p.Type, p.Payload); err != nil {
		return Login{}, err
	}
	username, password, _ := strings.Cut(string(p.Payload), "|")
	return Login{Username: username, Password: password}, nil
}

// ParseMessage extracts the sender/text pair from a Message packet.
func ParseMessage(p Packet) (Message, error) {
	if p.Type != TypeMessage {
		return Message{}, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, TypeMessage, p.Type)
	}
	if err := ValidatePayload(p.Type, p.Payload); err != nil {
		return Message{}, err
	}
	sender, text, _ := strings.Cut(string(p.Payload), "|")
	return Message{Sender: sender, Text: text}, nil
}

// ParseResponse extracts the response code from a Response packet.
func ParseResponse(p Packet) (ResponseCode, error) {
	if p.Type != TypeResponse {
		return 0, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, TypeResponse, p.Type)
	}
	if err := ValidatePayload(p.Type, p.Payload); err != nil {
		return 0, err
	}
	return ResponseCode(p.Payload[0]), nil
}
