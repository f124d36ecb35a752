//go:build linux

package process

import (
	"fmt"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// SendStdin writes data to the process's stdin (or PTY master). Returns an
// error if the handle is unknown.
func (r *Registry) SendStdin(handle string, data []byte) error {
	rec, ok := r.Get(handle)
	if !ok {
		return fmt.Errorf("process: unknown handle %q", handle)
	}
	w := rec.stdinWriter()
	if w == nil {
		return fmt.Errorf("process: %q has no stdin", handle)
	}
	_, err := w.Write(data)
	return err
}

// Kill sends sig (default SIGTERM when sig == 0) to the process group
// leader. Returns an error if the handle is unknown; killing an already-
// exited process is not an error (the registry will have removed it, so
// this simply returns "unknown handle").
func (r *Registry) Kill(handle string, sig int) error {
	rec, ok := r.Get(handle)
	if !ok {
		return fmt.Errorf("process: unknown handle %q", handle)
	}
	if sig == 0 {
		sig = int(unix.SIGTERM)
	}
	return unix.Kill(rec.PID, unix.Signal(sig))
}

// Resize applies a new PTY window size. A no-op for pipe-backed records,
// which have no terminal to resize.
func (r *Registry) Resize(handle string, rows, cols uint16) error {
	rec, ok := r.Get(handle)
	if !ok {
		return fmt.Errorf("process: unknown handle %q", handle)
	}
	if rec.Kind != IOPTY {
		return nil
	}
	return pty.Setsize(rec.master, &pty.Winsize{Rows: rows, Cols: cols})
}

// IsRunning reports whether handle still names a live process. Once the
// reaper observes exit it removes the record, so this is equivalent to
// "the record is still in the registry".
func (r *Registry) IsRunning(handle string) bool {
	_, ok := r.Get(handle)
	return ok
}
