package protocol

import "errors"

var (
	ErrShortHeader        = errors.New("protocol: short header")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownType        = errors.New("protocol: unknown packet type")
	ErrPayloadTooLarge    = errors.New("protocol: payload too large")
	ErrTruncated          = errors.New("protocol: truncated packet")
	ErrInvalidPayload     = errors.New("protocol: invalid payload")
	ErrTypeMismatch       = errors.New("protocol: packet type mismatch")
)

// IsWireError reports whether err is a violation of the wire contract,
// as opposed to a transport-level failure. Receivers must close the
// connection on any wire error; the protocol has no recovery path.
func IsWireError(err error) bool {
	return errors.Is(err, ErrShortHeader) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrTypeMismatch)
}
