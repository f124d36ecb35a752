//go:build linux

package hostclient

import (
	"fmt"

	"github.com/dnakov/kage/internal/protocol"
)

// Spawn runs command/args sandboxed (network disabled). It blocks until
// the guest replies spawned or error for this request's id.
func (c *Client) Spawn(command string, args []string) (protocol.SpawnedResponse, error) {
	return c.spawn(protocol.SpawnRequest{Command: command, Args: args, Network: false})
}

// SpawnRaw runs command/args with the host network namespace and no
// sandbox wrapper.
func (c *Client) SpawnRaw(command string, args []string) (protocol.SpawnedResponse, error) {
	return c.spawn(protocol.SpawnRequest{Command: command, Args: args, Network: true})
}

// SpawnWithOptions exposes the full spawn request surface (uid/gid/cwd/
// pty/seccomp profile) for callers that need more than the two
// convenience methods above.
func (c *Client) SpawnWithOptions(req protocol.SpawnRequest) (protocol.SpawnedResponse, error) {
	return c.spawn(req)
}

func (c *Client) spawn(req protocol.SpawnRequest) (protocol.SpawnedResponse, error) {
	c.spawnMu.Lock()
	defer c.spawnMu.Unlock()

	id := c.nextMsgID()
	req.ID = id

	done := make(chan spawnOutcome, 1)
	c.pendingMu.Lock()
	c.waitingID = id
	c.waiting = true
	c.resultCh = done
	c.pendingMu.Unlock()

	if err := c.send(protocol.TypeSpawn, req); err != nil {
		c.pendingMu.Lock()
		c.waiting = false
		c.pendingMu.Unlock()
		return protocol.SpawnedResponse{}, fmt.Errorf("hostclient: sending spawn: %w", err)
	}

	outcome := <-done
	if outcome.err != nil {
		return protocol.SpawnedResponse{}, fmt.Errorf("hostclient: spawn failed (%d): %s", outcome.err.Code, outcome.err.Message)
	}
	return outcome.resp, nil
}

// SendStdin writes data to handle's stdin. id correlates the stdin frame
// with the original spawn's id, per the wire schema.
func (c *Client) SendStdin(id uint32, handle string, data string) error {
	return c.send(protocol.TypeStdin, protocol.StdinRequest{ID: id, Handle: handle, Data: data})
}

// Kill signals handle. sig == 0 lets the guest apply its SIGTERM default.
func (c *Client) Kill(handle string, sig int) error {
	return c.send(protocol.TypeKill, protocol.KillRequest{Handle: handle, Signal: sig})
}

// Resize applies a new PTY window size to handle.
func (c *Client) Resize(handle string, rows, cols uint16) error {
	return c.send(protocol.TypeResize, protocol.ResizeRequest{Handle: handle, Rows: rows, Cols: cols})
}

// Ping sends a liveness probe; the guest's pong surfaces nowhere but the
// connection stays alive if the write succeeds.
func (c *Client) Ping() error {
	return c.send(protocol.TypePing, struct{}{})
}

// SendRaw writes an arbitrary request frame without waiting for a reply;
// the response (ok/error/data/running_status) surfaces on Events(). Used
// by callers (mount, unmount, session_create, binary_install, fs_read,
// is_running) that don't need Spawn's waiting_id correlation.
func (c *Client) SendRaw(typ protocol.Type, payload any) error {
	return c.send(typ, payload)
}
