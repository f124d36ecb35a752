//go:build linux

package hostclient

import (
	"encoding/json"

	"github.com/dnakov/kage/internal/protocol"
)

// readLoop is the client's single background reader task (spec §4.6). It
// classifies every incoming frame: spawned/error matching the currently
// waited-on id resolve a blocked Spawn call, everything else becomes an
// Event.
func (c *Client) readLoop() {
	for {
		frame, err := protocol.ReadWSFrame(c.nc)
		if err != nil {
			c.failPending(err)
			return
		}
		msg, _, err := protocol.Decode(frame.Data)
		if err != nil {
			continue
		}
		c.handleFrame(msg)
	}
}

func (c *Client) handleFrame(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeSpawned:
		var resp protocol.SpawnedResponse
		if json.Unmarshal(msg.Payload, &resp) == nil {
			if c.resolveSpawn(resp.ID, spawnOutcome{resp: resp}) {
				return
			}
		}
	case protocol.TypeError:
		var resp protocol.ErrorResponse
		if json.Unmarshal(msg.Payload, &resp) == nil {
			if c.resolveSpawn(resp.ID, spawnOutcome{err: &resp}) {
				return
			}
			c.emit(Event{Kind: "error", ID: resp.ID, ErrCode: resp.Code, Message: resp.Message})
			return
		}
	case protocol.TypeStdout:
		var ev protocol.OutputEvent
		if json.Unmarshal(msg.Payload, &ev) == nil {
			c.emit(Event{Kind: "stdout", ID: ev.ID, Data: ev.Data})
		}
	case protocol.TypeStderr:
		var ev protocol.OutputEvent
		if json.Unmarshal(msg.Payload, &ev) == nil {
			c.emit(Event{Kind: "stderr", ID: ev.ID, Data: ev.Data})
		}
	case protocol.TypeExit:
		var ev protocol.ExitEvent
		if json.Unmarshal(msg.Payload, &ev) == nil {
			c.emit(Event{Kind: "exit", ID: ev.ID, Code: ev.Code, Signal: ev.Signal})
		}
	case protocol.TypeOk:
		c.emit(Event{Kind: "ok"})
	case protocol.TypeRunningStatus:
		var ev protocol.RunningStatusResponse
		if json.Unmarshal(msg.Payload, &ev) == nil {
			c.emit(Event{Kind: "running_status", Data: ev.Handle, Code: boolToInt(ev.Running)})
		}
	case protocol.TypeData:
		var ev protocol.DataResponse
		if json.Unmarshal(msg.Payload, &ev) == nil {
			c.emit(Event{Kind: "data", Data: ev.Data})
		}
	case protocol.TypePong:
		// Liveness only; no event emitted.
	}
}

// resolveSpawn delivers outcome to the blocked Spawn call waiting on id,
// if any is currently waiting on exactly that id. Returns true if it did.
func (c *Client) resolveSpawn(id uint32, outcome spawnOutcome) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if !c.waiting || id != c.waitingID {
		return false
	}
	c.waiting = false
	c.resultCh <- outcome
	return true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// failPending unblocks any in-flight Spawn call when the connection dies
// out from under it.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.waiting {
		c.waiting = false
		c.resultCh <- spawnOutcome{err: &protocol.ErrorResponse{
			ID:      c.waitingID,
			Code:    protocol.ErrInternal,
			Message: "connection closed: " + err.Error(),
		}}
	}
}
