package protocol

import "fmt"

const (
	// Version is the only wire version this engine speaks.
	Version uint8 = 1
	// HeaderLen is the fixed packet header size on the wire.
	HeaderLen = 4
	// MaxPayloadLen caps every payload regardless of type.
	MaxPayloadLen = 4096
)

// PacketType identifies one of the five registered packet kinds.
type PacketType uint8

const (
	TypeHeartbeat PacketType = 1
	TypeLogin     PacketType = 2
	TypeMessage   PacketType = 3
	TypeResponse  PacketType = 4
	TypeLogout    PacketType = 5
)

func (t PacketType) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeLogin:
		return "login"
	case TypeMessage:
		return "message"
	case TypeResponse:
		return "response"
	case TypeLogout:
		return "logout"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ResponseCode is the single-byte payload of a Response packet.
type ResponseCode uint8

const (
	CodeOK              ResponseCode = 0
	CodeInvalidUsername ResponseCode = 1
	CodeTakenUsername   ResponseCode = 2
	CodeInvalidMessage  ResponseCode = 3
	CodeWrongPassword   ResponseCode = 4
	CodeGenericError    ResponseCode = 5
)

func (c ResponseCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidUsername:
		return "invalid_username"
	case CodeTakenUsername:
		return "taken_username"
	case CodeInvalidMessage:
		return "invalid_message"
	case CodeWrongPassword:
		return "wrong_password"
	case CodeGenericError:
		return "generic_error"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Header is the fixed wire header preceding every payload.
type Header struct {
	Version    uint8
	Type       PacketType
	PayloadLen uint16
}

// Packet is one framed unit on the wire. Treat as immutable once built:
// construct via the typed constructors or by decoding bytes.
type Packet struct {
	Type    PacketType
	Payload []byte
}
