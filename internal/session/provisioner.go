//go:build linux

package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Provisioner is the pluggable account-management backend (spec §6,
// "external provisioner interface").
type Provisioner interface {
	EnsureGroup(gid uint32, name string) error
	EnsureUser(uid, gid uint32, name, home, shell string) error
	DeleteUser(name string) error
	RecursiveChown(path string, uid, gid uint32) error
}

// ShellProvisioner is the default Provisioner: it shells out to the
// standard Linux account-management tools.
type ShellProvisioner struct{}

// EnsureGroup runs "groupadd --gid <gid> --force <name>". --force makes a
// pre-existing group of the same gid/name a success rather than an error.
func (ShellProvisioner) EnsureGroup(gid uint32, name string) error {
	cmd := exec.Command("groupadd", "--gid", fmt.Sprint(gid), "--force", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("groupadd: %w: %s", err, out)
	}
	return nil
}

// EnsureUser runs useradd. Exit status 9 ("account already exists") is
// treated as success, matching idempotent session_create semantics.
func (ShellProvisioner) EnsureUser(uid, gid uint32, name, home, shell string) error {
	cmd := exec.Command("useradd",
		"--uid", fmt.Sprint(uid),
		"--gid", fmt.Sprint(gid),
		"--home-dir", home,
		"--create-home",
		"--shell", shell,
		name,
	)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 9 {
		return nil
	}
	return fmt.Errorf("useradd: %w: %s", err, out)
}

// DeleteUser runs "userdel <name>".
func (ShellProvisioner) DeleteUser(name string) error {
	cmd := exec.Command("userdel", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("userdel: %w: %s", err, out)
	}
	return nil
}

// RecursiveChown walks path and chowns every entry to uid:gid.
func (ShellProvisioner) RecursiveChown(path string, uid, gid uint32) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(p, int(uid), int(gid))
	})
}
