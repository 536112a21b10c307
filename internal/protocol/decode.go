package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// DecodeHeader parses and validates the fixed 4-byte header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Version:    b[0],
		Type:       PacketType(b[1]),
		PayloadLen: binary.BigEndian.Uint16(b[2:4]),
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	sch, ok := LookupSchema(h.Type)
	if !ok {
		return Header{}, ErrUnknownType
	}
	if int(h.PayloadLen) > MaxPayloadLen || int(h.PayloadLen) > sch.MaxPayloadLen {
		return Header{}, ErrPayloadTooLarge
	}
	return h, nil
}

// Decode consumes one packet from the front of buf. When buf does not
// yet hold a complete packet it returns a zero consumed count and a nil
// error so the caller can buffer more bytes; the transport is a byte
// stream, not message-framed. Any non-nil error is fatal for the
// connection.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) < HeaderLen {
		return Packet{}, 0, nil
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return Packet{}, 0, err
	}
	total := HeaderLen + int(h.PayloadLen)
	if len(buf) < total {
		return Packet{}, 0, nil
	}
	var payload []byte
	if h.PayloadLen > 0 {
		payload = make([]byte, h.PayloadLen)
		copy(payload, buf[HeaderLen:total])
	}
	if err := ValidatePayload(h.Type, payload); err != nil {
		return Packet{}, 0, err
	}
	return Packet{Type: h.Type, Payload: payload}, total, nil
}

// ReadPacket reads exactly one packet from r, blocking until the full
// header and payload arrive. Transport errors pass through untouched so
// callers can tell peer disconnects and deadline expiry apart from wire
// violations.
func ReadPacket(r io.Reader) (Packet, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return Packet{}, err
	}
	var payload []byte
	if h.PayloadLen > 0 {
		payload = make([]byte, h.PayloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Packet{}, ErrTruncated
			}
			return Packet{}, err
		}
	}
	if err := ValidatePayload(h.Type, payload); err != nil {
		return Packet{}, err
	}
	return Packet{Type: h.Type, Payload: payload}, nil
}
