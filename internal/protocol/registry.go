package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Per-type payload caps, in bytes.
const (
	MaxLoginPayload   = 256
	MaxMessagePayload = 4096
	ResponsePayload   = 1
)

// MaxPasswordChars bounds the password part of a Login payload.
const MaxPasswordChars = 48

// Category tells how a packet participates in the request/response flow.
type Category uint8

const (
	// CategoryRequest packets demand exactly one Response before the
	// sender may issue another request.
	CategoryRequest Category = iota + 1
	// CategoryResponse packets resolve an outstanding request.
	CategoryResponse
	// CategoryMeta packets are unsolicited and never acknowledged.
	CategoryMeta
)

func (c Category) String() string {
	switch c {
	case CategoryRequest:
		return "request"
	case CategoryResponse:
		return "response"
	case CategoryMeta:
		return "meta"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Schema describes one registered packet type.
type Schema struct {
	Type          PacketType
	Name          string
	MaxPayloadLen int
	Category      Category
	validate      func([]byte) error
}

// schemas is the complete packet registry. Built once here, never
// mutated at runtime.
var schemas = map[PacketType]Schema{
	TypeHeartbeat: {Type: TypeHeartbeat, Name: "heartbeat", MaxPayloadLen: 0, Category: CategoryMeta, validate: validateEmpty},
	TypeLogin:     {Type: TypeLogin, Name: "login", MaxPayloadLen: MaxLoginPayload, Category: CategoryRequest, validate: validateLogin},
	TypeMessage:   {Type: TypeMessage, Name: "message", MaxPayloadLen: MaxMessagePayload, Category: CategoryRequest, validate: validateMessage},
	TypeResponse:  {Type: TypeResponse, Name: "response", MaxPayloadLen: ResponsePayload, Category: CategoryResponse, validate: validateResponse},
	TypeLogout:    {Type: TypeLogout, Name: "logout", MaxPayloadLen: 0, Category: CategoryMeta, validate: validateEmpty},
}

// LookupSchema returns the schema registered for t.
func LookupSchema(t PacketType) (Schema, bool) {
	sch, ok := schemas[t]
	return sch, ok
}

// ValidatePayload checks payload against the schema registered for t.
// A nil result means the payload is structurally sound; business rules
// such as username format are the handlers' concern.
func ValidatePayload(t PacketType, payload []byte) error {
	sch, ok := LookupSchema(t)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if len(payload) > sch.MaxPayloadLen {
		return fmt.Errorf("%w: %s allows at most %d bytes", ErrPayloadTooLarge, sch.Name, sch.MaxPayloadLen)
	}
	return sch.validate(payload)
}

func validateEmpty(payload []byte) error {
	if len(payload) != 0 {
		return fmt.Errorf("%w: expected empty payload, got %d bytes", ErrInvalidPayload, len(payload))
	}
	return nil
}

func validateLogin(payload []byte) error {
	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: login payload is not valid utf-8", ErrInvalidPayload)
	}
	s := string(payload)
	if strings.Count(s, "|") != 1 {
		return fmt.Errorf("%w: login payload needs exactly one delimiter", ErrInvalidPayload)
	}
	_, password, _ := strings.Cut(s, "|")
	if utf8.RuneCountInString(password) > MaxPasswordChars {
		return fmt.Errorf("%w: password exceeds %d characters", ErrInvalidPayload, MaxPasswordChars)
	}
	return nil
}

func validateMessage(payload []byte) error {
	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: message payload is not valid utf-8", ErrInvalidPayload)
	}
	if strings.Count(string(payload), "|") != 1 {
		return fmt.Errorf("%w: message payload needs exactly one delimiter", ErrInvalidPayload)
	}
	return nil
}

func validateResponse(payload []byte) error {
	if len(payload) != ResponsePayload {
		return fmt.Errorf("%w: response payload must be exactly one byte", ErrInvalidPayload)
	}
	if ResponseCode(payload[0]) > CodeGenericError {
		return fmt.Errorf("%w: unknown response code %d", ErrInvalidPayload, payload[0])
	}
	return nil
}
