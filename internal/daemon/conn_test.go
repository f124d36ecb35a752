//go:build linux

package daemon

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/dnakov/kage/internal/process"
	"github.com/dnakov/kage/internal/protocol"
	"github.com/dnakov/kage/internal/session"
)

// fakeProvisioner avoids shelling out to groupadd/useradd in tests.
type fakeProvisioner struct{}

func (fakeProvisioner) EnsureGroup(uint32, string) error                { return nil }
func (fakeProvisioner) EnsureUser(uint32, uint32, string, string, string) error { return nil }
func (fakeProvisioner) DeleteUser(string) error                          { return nil }
func (fakeProvisioner) RecursiveChown(string, uint32, uint32) error       { return nil }

func newTestConn(t *testing.T) (*conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := &conn{nc: server, procs: process.NewRegistry(), sessions: session.NewRegistry(fakeProvisioner{})}
	return c, client
}

func readMessage(t *testing.T, client net.Conn) protocol.Message {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadWSFrame(client)
	if err != nil {
		t.Fatalf("reading ws frame: %v", err)
	}
	msg, _, err := protocol.Decode(frame.Data)
	if err != nil {
		t.Fatalf("decoding inner frame: %v", err)
	}
	return msg
}

func TestDispatchPingRepliesWithPong(t *testing.T) {
	c, client := newTestConn(t)
	defer client.Close()

	go c.dispatch(protocol.Message{Type: protocol.TypePing})

	msg := readMessage(t, client)
	if msg.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %v", msg.Type)
	}
}

func TestDispatchIsRunningUnknownHandle(t *testing.T) {
	c, client := newTestConn(t)
	defer client.Close()

	payload, _ := json.Marshal(protocol.IsRunningRequest{Handle: "proc-404"})
	go c.dispatch(protocol.Message{Type: protocol.TypeIsRunning, Payload: payload})

	msg := readMessage(t, client)
	if msg.Type != protocol.TypeRunningStatus {
		t.Fatalf("expected running_status, got %v", msg.Type)
	}
	var resp protocol.RunningStatusResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Running {
		t.Fatalf("expected running=false for unknown handle")
	}
}

func TestDispatchSessionCreateIsIdempotent(t *testing.T) {
	c, client := newTestConn(t)
	defer client.Close()

	payload, _ := json.Marshal(protocol.SessionCreateRequest{Uid: 2001})
	go c.dispatch(protocol.Message{Type: protocol.TypeSessionCreate, Payload: payload})
	first := readMessage(t, client)

	go c.dispatch(protocol.Message{Type: protocol.TypeSessionCreate, Payload: payload})
	second := readMessage(t, client)

	if first.Type != protocol.TypeOk || second.Type != protocol.TypeOk {
		t.Fatalf("expected ok responses, got %v / %v", first.Type, second.Type)
	}
	if string(first.Payload) != string(second.Payload) {
		t.Fatalf("expected identical session payloads, got %s vs %s", first.Payload, second.Payload)
	}
	if c.sessions.Len() != 1 {
		t.Fatalf("expected exactly one session record, got %d", c.sessions.Len())
	}
}

func TestDispatchMalformedPayloadSendsInvalidParams(t *testing.T) {
	c, client := newTestConn(t)
	defer client.Close()

	go c.dispatch(protocol.Message{Type: protocol.TypeSpawn, Payload: []byte("not json")})

	msg := readMessage(t, client)
	if msg.Type != protocol.TypeError {
		t.Fatalf("expected error response, got %v", msg.Type)
	}
	var resp protocol.ErrorResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != protocol.ErrInvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %d", resp.Code)
	}
}
