package protocol

import (
	"bytes"
	"net"
	"testing"
)

func TestAcceptKeyBitExact(t *testing.T) {
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("computeAcceptKey = %q, want %q", got, want)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		done <- ServerHandshake(server)
	}()

	if err := ClientHandshake(client, "guest:8080"); err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("ServerHandshake: %v", err)
	}
}

func TestWSFrameRoundTripUnmasked(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello, sandbox")
	if err := WriteWSFrame(&buf, payload); err != nil {
		t.Fatalf("WriteWSFrame: %v", err)
	}

	frame, err := ReadWSFrame(&buf)
	if err != nil {
		t.Fatalf("ReadWSFrame: %v", err)
	}
	if !bytes.Equal(frame.Data, payload) {
		t.Fatalf("got %q, want %q", frame.Data, payload)
	}
}

func TestWSFrameRoundTripMasked(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("client frames carry a mask key")
	write := WriteWSFrameMasked(&buf)
	if err := write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame, err := ReadWSFrame(&buf)
	if err != nil {
		t.Fatalf("ReadWSFrame: %v", err)
	}
	if !bytes.Equal(frame.Data, payload) {
		t.Fatalf("got %q, want %q (all-zero mask XORs to identity)", frame.Data, payload)
	}
}

func TestWSFrameLargePayloadUses64BitLength(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{'x'}, 70000)
	if err := WriteWSFrame(&buf, payload); err != nil {
		t.Fatalf("WriteWSFrame: %v", err)
	}
	frame, err := ReadWSFrame(&buf)
	if err != nil {
		t.Fatalf("ReadWSFrame: %v", err)
	}
	if len(frame.Data) != len(payload) {
		t.Fatalf("got %d bytes, want %d", len(frame.Data), len(payload))
	}
}

func TestWSFramePayloadTooLarge(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, MaxFramePayload+1)
	if err := WriteWSFrame(&buf, payload); err != ErrWSPayloadTooLarge {
		t.Fatalf("got %v, want ErrWSPayloadTooLarge", err)
	}
}

func TestReadWSFrameClose(t *testing.T) {
	var buf bytes.Buffer
	if err := writeWSFrame(&buf, opClose, nil, false); err != nil {
		t.Fatalf("writeWSFrame: %v", err)
	}
	_, err := ReadWSFrame(&buf)
	if err != ErrConnectionClosed {
		t.Fatalf("got %v, want ErrConnectionClosed", err)
	}
}
