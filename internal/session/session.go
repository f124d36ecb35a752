//go:build linux

// Package session implements the guest-side account provisioner: mapping a
// connection-supplied uid to a real Linux user, idempotently, and tearing
// the user back down on request.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dnakov/kage/internal/logging"
)

// Record describes one provisioned session.
type Record struct {
	Uid      uint32
	Gid      uint32
	Username string
	HomeDir  string
}

// Registry holds every session created for the lifetime of the daemon.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint32]*Record
	prov     Provisioner
}

// NewRegistry constructs a registry backed by prov. Pass nil to use
// ShellProvisioner, the default groupadd/useradd-based implementation.
func NewRegistry(prov Provisioner) *Registry {
	if prov == nil {
		prov = ShellProvisioner{}
	}
	return &Registry{sessions: make(map[uint32]*Record), prov: prov}
}

// Create provisions (or returns the existing) session for uid. username
// defaults to "session<uid>" and the home directory is always
// "/home/<uid>".
func (r *Registry) Create(uid uint32, username string) (*Record, error) {
	r.mu.Lock()
	if rec, ok := r.sessions[uid]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	if username == "" {
		username = fmt.Sprintf("session%d", uid)
	}
	home := filepath.Join("/home", fmt.Sprint(uid))
	gid := uid

	if err := r.prov.EnsureGroup(gid, username); err != nil {
		return nil, fmt.Errorf("session: ensure_group: %w", err)
	}
	if err := r.prov.EnsureUser(uid, gid, username, home, "/bin/bash"); err != nil {
		return nil, fmt.Errorf("session: ensure_user: %w", err)
	}

	for _, dir := range []string{home, filepath.Join(home, "mnt"), filepath.Join(home, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: creating %s: %w", dir, err)
		}
	}
	if err := r.prov.RecursiveChown(home, uid, gid); err != nil {
		return nil, fmt.Errorf("session: chown home: %w", err)
	}

	rec := &Record{Uid: uid, Gid: gid, Username: username, HomeDir: home}

	r.mu.Lock()
	if existing, ok := r.sessions[uid]; ok {
		// Lost a race against a concurrent Create for the same uid;
		// the registry keeps whichever record won, both describe the
		// same provisioned account.
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[uid] = rec
	r.mu.Unlock()

	return rec, nil
}

// Destroy removes the in-memory record, optionally deletes the home tree,
// and deletes the OS account. Both cleanup steps are best-effort: failures
// are logged, never returned, and never undo the registry removal.
func (r *Registry) Destroy(uid uint32, deleteHome bool) error {
	r.mu.Lock()
	rec, ok := r.sessions[uid]
	delete(r.sessions, uid)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: no session for uid %d", uid)
	}

	// Home deletion and userdel are best-effort: log and move on rather
	// than roll back the registry removal above.
	if deleteHome {
		if err := os.RemoveAll(rec.HomeDir); err != nil {
			logging.Log.Warn("removing session home failed", slog.Any("err", err), slog.String("home", rec.HomeDir))
		}
	}
	if err := r.prov.DeleteUser(rec.Username); err != nil {
		logging.Log.Warn("userdel failed", slog.Any("err", err), slog.String("username", rec.Username))
	}
	return nil
}

// Get returns the session for uid, if provisioned.
func (r *Registry) Get(uid uint32) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[uid]
	return rec, ok
}

// Len reports the number of provisioned sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
