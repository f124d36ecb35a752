//go:build linux

package sandbox

import (
	"fmt"

	"github.com/dnakov/kage/internal/seccomp"
)

// setupSeccomp builds and installs the filter for opts.SeccompProf. Must be
// called in the child after filesystem/cgroup/uidmap work, and right
// before Exec.
func setupSeccomp(opts *SandboxOptions) error {
	prog, err := seccomp.Resolve(opts.SeccompProf)
	if err != nil {
		return err
	}
	if err := seccomp.SetNoNewPrivs(); err != nil {
		return err
	}
	if err := seccomp.Install(prog); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	return nil
}
