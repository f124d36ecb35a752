//go:build linux

package daemon

import (
	"github.com/dnakov/kage/internal/fsops"
	"github.com/dnakov/kage/internal/process"
	"github.com/dnakov/kage/internal/protocol"
)

func (c *conn) handleSpawn(payload []byte) {
	var req protocol.SpawnRequest
	if !c.decode(payload, &req) {
		return
	}
	profile := req.SeccompProfile
	if profile == "" {
		profile = "default"
	}

	opts := process.SpawnOptions{
		CorrelationID:  req.ID,
		Command:        req.Command,
		Args:           req.Args,
		Cwd:            req.Cwd,
		Network:        req.Network,
		UID:            req.Uid,
		GID:            req.Gid,
		SeccompProfile: profile,
		PTY:            req.Pty,
	}

	rec, err := c.procs.Spawn(opts, c.onOutput, c.onExit)
	if err != nil {
		c.sendError(req.ID, protocol.ErrSpawnFailed, err.Error())
		return
	}
	c.send(protocol.TypeSpawned, protocol.SpawnedResponse{ID: req.ID, Pid: rec.PID, Handle: rec.Handle})
}

func (c *conn) onOutput(rec *process.Record, stream string, data []byte) {
	typ := protocol.TypeStdout
	if stream == "stderr" {
		typ = protocol.TypeStderr
	}
	c.send(typ, protocol.OutputEvent{ID: rec.CorrelationID, Data: string(data)})
}

func (c *conn) onExit(rec *process.Record, exitCode, signal int) {
	c.send(protocol.TypeExit, protocol.ExitEvent{ID: rec.CorrelationID, Code: exitCode, Signal: signal})
}

func (c *conn) handleStdin(payload []byte) {
	var req protocol.StdinRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := c.procs.SendStdin(req.Handle, []byte(req.Data)); err != nil {
		c.sendError(req.ID, protocol.ErrProcessNotFound, err.Error())
	}
}

func (c *conn) handleKill(payload []byte) {
	var req protocol.KillRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := c.procs.Kill(req.Handle, req.Signal); err != nil {
		c.sendError(0, protocol.ErrProcessNotFound, err.Error())
		return
	}
}

func (c *conn) handleResize(payload []byte) {
	var req protocol.ResizeRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := c.procs.Resize(req.Handle, req.Rows, req.Cols); err != nil {
		c.sendError(0, protocol.ErrProcessNotFound, err.Error())
		return
	}
}

func (c *conn) handleIsRunning(payload []byte) {
	var req protocol.IsRunningRequest
	if !c.decode(payload, &req) {
		return
	}
	rec, running := c.procs.Get(req.Handle)
	resp := protocol.RunningStatusResponse{Handle: req.Handle, Running: running}
	if running {
		resp.Pid = rec.PID
	}
	c.send(protocol.TypeRunningStatus, resp)
}

func (c *conn) handleMount(payload []byte) {
	var req protocol.MountRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := fsops.Mount(req.Tag, req.MountPoint, req.ReadOnly); err != nil {
		c.sendError(0, protocol.ErrMountFailed, err.Error())
		return
	}
	c.send(protocol.TypeOk, protocol.OkResponse{})
}

func (c *conn) handleUnmount(payload []byte) {
	var req protocol.UnmountRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := fsops.Unmount(req.MountPoint); err != nil {
		c.sendError(0, protocol.ErrMountFailed, err.Error())
		return
	}
	c.send(protocol.TypeOk, protocol.OkResponse{})
}

func (c *conn) handleBinaryInstall(payload []byte) {
	var req protocol.BinaryInstallRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := fsops.InstallBinary(req.Name, req.Data, req.Executable); err != nil {
		c.sendError(0, protocol.ErrInstallFailed, err.Error())
		return
	}
	c.send(protocol.TypeOk, protocol.OkResponse{})
}

func (c *conn) handleFsRead(payload []byte) {
	var req protocol.FsReadRequest
	if !c.decode(payload, &req) {
		return
	}
	data, err := fsops.ReadFile(req.Path)
	if err != nil {
		c.sendError(0, protocol.ErrInternal, err.Error())
		return
	}
	c.send(protocol.TypeData, protocol.DataResponse{Data: base64Encode(data)})
}

func (c *conn) handleSessionCreate(payload []byte) {
	var req protocol.SessionCreateRequest
	if !c.decode(payload, &req) {
		return
	}
	rec, err := c.sessions.Create(req.Uid, req.Username)
	if err != nil {
		c.sendError(0, protocol.ErrUserCreateFailed, err.Error())
		return
	}
	c.send(protocol.TypeOk, protocol.OkResponse{Uid: rec.Uid, Gid: rec.Gid, Username: rec.Username, HomeDir: rec.HomeDir})
}

func (c *conn) handleSessionDestroy(payload []byte) {
	var req protocol.SessionDestroyRequest
	if !c.decode(payload, &req) {
		return
	}
	if err := c.sessions.Destroy(req.Uid, req.DeleteHome); err != nil {
		c.sendError(0, protocol.ErrUserCreateFailed, err.Error())
		return
	}
	c.send(protocol.TypeOk, protocol.OkResponse{})
}
