//go:build linux

package hostclient

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/dnakov/kage/internal/protocol"
)

// fakeGuest performs the server side of the handshake on one net.Pipe end
// and answers exactly one spawn request with a spawned response, echoing
// back a stdout and exit frame afterwards.
func fakeGuest(t *testing.T, server net.Conn) {
	t.Helper()
	if err := protocol.ServerHandshake(server); err != nil {
		t.Errorf("fake guest handshake: %v", err)
		return
	}
	frame, err := protocol.ReadWSFrame(server)
	if err != nil {
		t.Errorf("fake guest read: %v", err)
		return
	}
	msg, _, err := protocol.Decode(frame.Data)
	if err != nil || msg.Type != protocol.TypeSpawn {
		t.Errorf("fake guest: expected spawn, got %v err=%v", msg.Type, err)
		return
	}
	var req protocol.SpawnRequest
	_ = json.Unmarshal(msg.Payload, &req)

	spawned, _ := json.Marshal(protocol.SpawnedResponse{ID: req.ID, Pid: 4242, Handle: "proc-1"})
	_ = protocol.WriteWSFrame(server, protocol.Message{Type: protocol.TypeSpawned, Payload: spawned}.Encode())

	out, _ := json.Marshal(protocol.OutputEvent{ID: req.ID, Data: "hi\n"})
	_ = protocol.WriteWSFrame(server, protocol.Message{Type: protocol.TypeStdout, Payload: out}.Encode())

	exit, _ := json.Marshal(protocol.ExitEvent{ID: req.ID, Code: 0})
	_ = protocol.WriteWSFrame(server, protocol.Message{Type: protocol.TypeExit, Payload: exit}.Encode())
}

func TestClientSpawnRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	go fakeGuest(t, server)

	// Perform the client-side handshake manually since Connect dials a
	// real TCP address; here we already have a connected pipe.
	if err := protocol.ClientHandshake(client, "guest"); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	c := &Client{nc: client, events: make(chan Event, 8)}
	go c.readLoop()
	defer c.Close()

	resp, err := c.Spawn("/bin/echo", []string{"hi"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if resp.Handle != "proc-1" || resp.Pid != 4242 {
		t.Fatalf("unexpected spawned response: %+v", resp)
	}

	select {
	case ev := <-c.Events():
		if ev.Kind != "stdout" || ev.Data != "hi\n" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stdout event")
	}

	select {
	case ev := <-c.Events():
		if ev.Kind != "exit" || ev.Code != 0 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit event")
	}
}
