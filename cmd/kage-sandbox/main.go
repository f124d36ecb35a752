//go:build linux

// Command kage-sandbox is the per-process isolation helper invoked by kaged
// ahead of a sandboxed command. It clones a child into new namespaces; the
// child sets up the rootfs and seccomp filter and execve's the target
// command. The helper itself does not exec in place of the target: it
// stays in the parent, waits for the child, and exits with the child's
// exit code (128+signal if the child was killed by a signal).
package main

import (
	"fmt"
	"os"

	"github.com/dnakov/kage/internal/logging"
	"github.com/dnakov/kage/internal/rootfs"
	"github.com/dnakov/kage/internal/sandbox"
)

// hostname is the hostname every sandbox gets.
func hostname() string {
	return "sandbox"
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "kage-sandbox:", err)
		os.Exit(1)
	}
	if opts == nil {
		// --help was given.
		os.Exit(0)
	}

	logging.CreateLogger(&logging.LoggerOpts{LogLevel: 0, LogFormat: logging.LogText})

	sandboxOpts := &sandbox.SandboxOptions{
		FS:            rootfs.FsMount{Mode: rootfs.FsTmpfs},
		Net:           opts.net,
		MountRO:       opts.roBinds,
		MountRW:       opts.rwBinds,
		TmpfsPaths:    opts.tmpfsPaths,
		Cwd:           opts.cwd,
		Capabilities:  &sandbox.CapabilityOpts{Add: sandbox.NewCapSet(), Drop: sandbox.NewCapSet()},
		NamespaceMode: sandbox.UserNamespaceIsolated,
		Env:           buildEnv(),
		SeccompProf:   opts.seccompProfile,
		Commands:      opts.command,
		Hostname:      hostname(),
		TargetUID:     opts.uid,
		TargetGID:     opts.gid,
		NewSession:    true,
		DieWithParent: true,
	}

	box, err := sandbox.NewSandbox(sandboxOpts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kage-sandbox: creating sandbox:", err)
		os.Exit(1)
	}

	code, err := box.Wait()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kage-sandbox: waiting for sandbox:", err)
		os.Exit(1)
	}
	os.Exit(code)
}
