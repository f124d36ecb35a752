//go:build linux

package daemon

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/dnakov/kage/internal/logging"
	"github.com/dnakov/kage/internal/process"
	"github.com/dnakov/kage/internal/protocol"
	"github.com/dnakov/kage/internal/session"
)

// conn is one accepted connection's worker state. The write half is a
// single mutable resource shared by the dispatch loop and every spawned
// process's forwarder/reaper goroutines, so all writes go through send,
// which holds writeMu for the duration of one frame.
type conn struct {
	nc       net.Conn
	writeMu  sync.Mutex
	procs    *process.Registry
	sessions *session.Registry
}

func (s *Server) serveConn(nc net.Conn) {
	defer nc.Close()

	if err := protocol.ServerHandshake(nc); err != nil {
		logging.Log.Warn("websocket handshake failed", slog.Any("err", err))
		return
	}

	c := &conn{nc: nc, procs: s.procs, sessions: s.sessions}
	logging.Log.Info("connection accepted", slog.String("remote", nc.RemoteAddr().String()))

	for {
		frame, err := protocol.ReadWSFrame(nc)
		if err != nil {
			logging.Log.Debug("connection closed", slog.Any("err", err))
			return
		}
		msg, _, err := protocol.Decode(frame.Data)
		if err != nil {
			logging.Log.Warn("malformed inner frame", slog.Any("err", err))
			continue
		}
		c.dispatch(msg)
	}
}

// send encodes and writes a single response message, serialized against
// every concurrent writer on this connection.
func (c *conn) send(typ protocol.Type, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Log.Error("marshaling response", slog.Any("err", err))
		return
	}
	msg := protocol.Message{Type: typ, Payload: body}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteWSFrame(c.nc, msg.Encode()); err != nil {
		logging.Log.Debug("write failed", slog.Any("err", err))
	}
}

// sendError writes a typed error response, optionally correlated to a
// request id.
func (c *conn) sendError(id uint32, code protocol.ErrorCode, message string) {
	c.send(protocol.TypeError, protocol.ErrorResponse{ID: id, Code: code, Message: message})
}

// dispatch decodes the JSON payload for msg's type and routes to the
// matching handler. A panic inside any handler is recovered so it cannot
// take down the read loop for the rest of the connection.
func (c *conn) dispatch(msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log.Error("handler panic recovered", slog.Any("panic", r), slog.String("type", msg.Type.String()))
		}
	}()

	switch msg.Type {
	case protocol.TypeSpawn:
		c.handleSpawn(msg.Payload)
	case protocol.TypeStdin:
		c.handleStdin(msg.Payload)
	case protocol.TypeKill:
		c.handleKill(msg.Payload)
	case protocol.TypeResize:
		c.handleResize(msg.Payload)
	case protocol.TypeMount:
		c.handleMount(msg.Payload)
	case protocol.TypeUnmount:
		c.handleUnmount(msg.Payload)
	case protocol.TypeSessionCreate:
		c.handleSessionCreate(msg.Payload)
	case protocol.TypeSessionDestroy:
		c.handleSessionDestroy(msg.Payload)
	case protocol.TypeBinaryInstall:
		c.handleBinaryInstall(msg.Payload)
	case protocol.TypeFsRead, protocol.TypeLoadState:
		c.handleFsRead(msg.Payload)
	case protocol.TypeIsRunning:
		c.handleIsRunning(msg.Payload)
	case protocol.TypePing:
		c.send(protocol.TypePong, struct{}{})
	default:
		// Unknown types are silently ignored.
	}
}

// decode unmarshals payload into v, reporting INVALID_PARAMS on failure.
// Returns false when decoding failed (the caller should stop processing).
func (c *conn) decode(payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		c.sendError(0, protocol.ErrInvalidParams, "invalid params: "+err.Error())
		return false
	}
	return true
}
