package protocol

import (
	"encoding/binary"
	"io"
)

// EncodePacket renders p as header plus payload. The payload is checked
// against the registry first; the codec never emits a packet a
// conforming receiver would reject.
func EncodePacket(p Packet) ([]byte, error) {
	if err := ValidatePayload(p.Type, p.Payload); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderLen+len(p.Payload))
	buf[0] = Version
	buf[1] = byte(p.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Payload)))
	copy(buf[HeaderLen:], p.Payload)
	return buf, nil
}

// WritePacket encodes p and writes it to w in one call.
func WritePacket(w io.Writer, p Packet) error {
	buf, err := EncodePacket(p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
