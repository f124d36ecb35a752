//go:build linux

// Package daemon implements kaged's control-plane: the WebSocket accept
// loop and the per-connection dispatch loop that answers spawn, stdin,
// kill, resize, mount, unmount, session, binary_install, fs_read, and
// is_running requests.
package daemon

import (
	"log/slog"
	"net"

	"github.com/dnakov/kage/internal/fsops"
	"github.com/dnakov/kage/internal/logging"
	"github.com/dnakov/kage/internal/process"
	"github.com/dnakov/kage/internal/protocol"
	"github.com/dnakov/kage/internal/session"
	"github.com/inhies/go-bytesize"
)

// Server owns the listener, the process registry, and the session
// registry, all shared across every connection: process handles are
// monotonic and unique for the daemon's lifetime, not just per
// connection, so a single registry is shared rather than one per
// connection. Per-connection output/exit callbacks still route each
// process's frames back to the socket that spawned it, so sharing the
// registry doesn't affect routing.
type Server struct {
	procs    *process.Registry
	sessions *session.Registry
}

// NewServer constructs a daemon server. sessionProv may be nil to use the
// default shell-based provisioner.
func NewServer(sessionProv session.Provisioner) *Server {
	return &Server{procs: process.NewRegistry(), sessions: session.NewRegistry(sessionProv)}
}

// ListenAndServe binds addr (e.g. "0.0.0.0:8080") and serves connections
// until the listener errors (e.g. on Close from another goroutine).
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	logging.Log.Info("kaged listening",
		slog.String("addr", addr),
		slog.String("frame_cap", bytesize.New(float64(protocol.MaxFramePayload)).String()),
		slog.String("fs_read_cap", bytesize.New(float64(fsops.MaxReadSize)).String()),
	)

	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(nc)
	}
}
