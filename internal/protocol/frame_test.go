package protocol

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"id":7,"pid":123,"handle":"proc-0"}`)
	msg := Message{Type: TypeSpawned, Payload: payload}

	encoded := msg.Encode()
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded.Type != msg.Type || !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, msg)
	}
}

func TestEncodeBitExact(t *testing.T) {
	payload := []byte(`{"id":7,"pid":123,"handle":"proc-0"}`)
	msg := Message{Type: TypeSpawned, Payload: payload}

	got := msg.Encode()
	want := append([]byte{0x81, 0x24, 0x00, 0x00, 0x00}, payload...)
	if !bytes.Equal(got, want) {
		t.Fatalf("encode mismatch:\ngot  % X\nwant % X", got, want)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, _, err := Decode([]byte{0x01, 0x00, 0x00}); err != ErrTooShort {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}

func TestDecodePayloadTooLarge(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[0] = byte(TypeSpawn)
	// Declare a length larger than MaxPayloadSize.
	buf[1], buf[2], buf[3], buf[4] = 0xFF, 0xFF, 0xFF, 0xFF
	if _, _, err := Decode(buf); err != ErrPayloadTooLarge {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeNeedsFullPayload(t *testing.T) {
	msg := Message{Type: TypePing, Payload: []byte(`{}`)}
	encoded := msg.Encode()
	// Truncate the payload.
	if _, _, err := Decode(encoded[:len(encoded)-1]); err != ErrTooShort {
		t.Fatalf("got %v, want ErrTooShort", err)
	}
}
