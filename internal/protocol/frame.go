// Package protocol implements the inner frame codec and the outer
// WebSocket transport used between kaged and its callers.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxPayloadSize is the largest payload a Message may carry (spec §4.1).
const MaxPayloadSize = 16 * 1024 * 1024

// headerSize is the length of the type+length prefix of an inner frame.
const headerSize = 5

// ErrTooShort is returned when fewer than headerSize bytes are available.
var ErrTooShort = errors.New("protocol: frame too short")

// ErrPayloadTooLarge is returned when the declared payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("protocol: payload too large")

// Message is a single framed control-plane message: a 1-byte type tag, a
// 4-byte little-endian length, and a JSON payload.
type Message struct {
	Type    Type
	Payload []byte
}

// Encode serializes m as type(1) || len(4, LE) || payload.
func (m Message) Encode() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(m.Payload)))
	copy(buf[5:], m.Payload)
	return buf
}

// Decode parses a single inner frame out of buf. It requires the full frame
// (header + payload) to already be present in buf; use DecodeLen to learn how
// many bytes are needed once the header is available.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < headerSize {
		return Message{}, 0, ErrTooShort
	}
	length := binary.LittleEndian.Uint32(buf[1:5])
	if length > MaxPayloadSize {
		return Message{}, 0, ErrPayloadTooLarge
	}
	total := headerSize + int(length)
	if len(buf) < total {
		return Message{}, 0, ErrTooShort
	}
	payload := make([]byte, length)
	copy(payload, buf[headerSize:total])
	return Message{Type: Type(buf[0]), Payload: payload}, total, nil
}

// DecodeLen reports the total frame length declared by a header, or an error
// if the header itself isn't fully present yet.
func DecodeLen(header []byte) (int, error) {
	if len(header) < headerSize {
		return 0, ErrTooShort
	}
	length := binary.LittleEndian.Uint32(header[1:5])
	if length > MaxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}
	return headerSize + int(length), nil
}
