//go:build linux

// Package process implements the guest-side supervisor: it spawns child
// processes (optionally through the sandbox helper), forwards their
// stdout/stderr, reaps their exit status, and answers stdin/kill/resize/
// is_running requests against an opaque per-process handle.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IOKind distinguishes a PTY-backed record from a pipe-backed one.
type IOKind int

const (
	IOPipes IOKind = iota
	IOPTY
)

// Record is one live (or reaping) child process.
type Record struct {
	Handle        string
	UUID          uuid.UUID
	CorrelationID uint32
	PID           int
	Kind          IOKind

	cmd *exec.Cmd

	// master is the PTY master fd, used for stdin/stdout/stderr alike,
	// when Kind == IOPTY.
	master *os.File

	// Pipe endpoints, when Kind == IOPipes.
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	closeOnce sync.Once
}

// stdinWriter returns the file to write stdin bytes to.
func (r *Record) stdinWriter() *os.File {
	if r.Kind == IOPTY {
		return r.master
	}
	return r.stdin
}

// Close releases every descriptor owned by the record exactly once. Safe to
// call concurrently and multiple times; the reaper is its caller.
func (r *Record) Close() {
	r.closeOnce.Do(func() {
		if r.Kind == IOPTY {
			if r.master != nil {
				_ = r.master.Close()
			}
			return
		}
		if r.stdin != nil {
			_ = r.stdin.Close()
		}
		if r.stdout != nil {
			_ = r.stdout.Close()
		}
		if r.stderr != nil {
			_ = r.stderr.Close()
		}
	})
}

// Registry owns every live Record for the daemon's lifetime.
type Registry struct {
	mu     sync.Mutex
	procs  map[string]*Record
	nextID uint64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*Record)}
}

// allocHandle mints the next monotonic "proc-<n>" handle, starting at
// "proc-0" for the first spawn.
func (r *Registry) allocHandle() string {
	n := atomic.AddUint64(&r.nextID, 1) - 1
	return fmt.Sprintf("proc-%d", n)
}

func (r *Registry) insert(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[rec.Handle] = rec
}

// Get looks up a record by handle.
func (r *Registry) Get(handle string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.procs[handle]
	return rec, ok
}

// Remove deletes a record from the registry. Does not close descriptors —
// callers must have already called rec.Close() (the reaper does both).
func (r *Registry) Remove(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, handle)
}

// Len reports the number of live records, for tests asserting the registry
// returns to its prior size after a spawn/exit cycle.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}
