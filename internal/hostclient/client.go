//go:build linux

// Package hostclient implements the host-side counterpart to kaged's
// control-plane protocol: it dials the guest, performs the WebSocket
// handshake, and exposes request-oriented methods plus an event stream
// for asynchronous stdout/stderr/exit/error notifications.
package hostclient

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dnakov/kage/internal/protocol"
)

// Event is one asynchronous notification from the guest (stdout, stderr,
// exit, error, or a reply to a SendRaw request: ok, data, running_status),
// not correlated to a caller currently blocked in Spawn.
type Event struct {
	Kind    string // "stdout", "stderr", "exit", "error", "ok", "data", "running_status"
	ID      uint32
	Data    string
	Code    int
	Signal  int
	ErrCode protocol.ErrorCode
	Message string
}

// Callbacks is the named-field convenience wrapper around Events(); every
// field is optional.
type Callbacks struct {
	OnStdout func(id uint32, data string)
	OnStderr func(id uint32, data string)
	OnExit   func(id uint32, code, signal int)
	OnError  func(id uint32, code protocol.ErrorCode, message string)
}

// Client is a single connection to a guest kaged instance.
type Client struct {
	nc      net.Conn
	writeMu sync.Mutex

	nextID uint32

	// spawnMu serializes spawn calls: only one id is "waited on" at a
	// time, matching the single-slot synchronization spec §4.6 describes.
	spawnMu sync.Mutex

	pendingMu  sync.Mutex
	waitingID  uint32
	waiting    bool
	resultCh   chan spawnOutcome

	events    chan Event
	callbacks *Callbacks

	closeOnce sync.Once
}

type spawnOutcome struct {
	resp protocol.SpawnedResponse
	err  *protocol.ErrorResponse
}

// Connect dials addr ("host:port"), completes the client handshake, and
// starts the background reader. cb may be nil.
func Connect(addr string, cb *Callbacks) (*Client, error) {
	nc, err := protocol.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("hostclient: dialing %s: %w", addr, err)
	}
	c := &Client{
		nc:        nc,
		events:    make(chan Event, 64),
		callbacks: cb,
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of asynchronous notifications. Callers that
// only want Callbacks may ignore it; it is always populated alongside any
// configured callback.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close shuts down the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
		close(c.events)
	})
	return err
}

func (c *Client) nextMsgID() uint32 {
	return atomic.AddUint32(&c.nextID, 1)
}

// send encodes and writes a single frame, serialized against concurrent
// writers (the reader never writes, but Spawn/SendStdin/Kill/Ping can run
// concurrently with each other).
func (c *Client) send(typ protocol.Type, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := protocol.Message{Type: typ, Payload: body}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteWSFrameMasked(c.nc)(msg.Encode())
}

func (c *Client) emit(ev Event) {
	switch ev.Kind {
	case "stdout":
		if c.callbacks != nil && c.callbacks.OnStdout != nil {
			c.callbacks.OnStdout(ev.ID, ev.Data)
		}
	case "stderr":
		if c.callbacks != nil && c.callbacks.OnStderr != nil {
			c.callbacks.OnStderr(ev.ID, ev.Data)
		}
	case "exit":
		if c.callbacks != nil && c.callbacks.OnExit != nil {
			c.callbacks.OnExit(ev.ID, ev.Code, ev.Signal)
		}
	case "error":
		if c.callbacks != nil && c.callbacks.OnError != nil {
			c.callbacks.OnError(ev.ID, ev.ErrCode, ev.Message)
		}
	}
	select {
	case c.events <- ev:
	default:
		// A slow consumer must not stall the reader; drop rather than
		// block, matching the "no ordering guarantee between processes"
		// concurrency note.
	}
}
