//go:build linux

package sandbox

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/dnakov/kage/internal/logging"
	"github.com/dnakov/kage/internal/netns"
	"github.com/dnakov/kage/internal/rootfs"
	"github.com/dnakov/kage/internal/seccomp"
	uuid "github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Sandbox parameters.
type SandboxOptions struct {
	UUID          uuid.UUID
	FS            rootfs.FsMount
	ReadOnly      bool
	Net           netns.NetworkMode
	MountRO       []rootfs.MountSpec
	MountRW       []rootfs.MountSpec
	TmpfsPaths    []string
	Cwd           string
	Capabilities  *CapabilityOpts
	NamespaceMode UserNamespaceMode
	NameServ      []string
	Env           EnvVars
	LogLevel      slog.Level
	LogFormat     logging.LogFormat
	SeccompProf   seccomp.Profile
	Commands      []string
	Hostname      string
	CPUs          float64
	Memory        uint64
	Storage       uint64

	// TargetUID/TargetGID set the in-sandbox process identity via
	// setresuid/setresgid just before seccomp install and exec. Nil means
	// "stay as the namespace root" (uid/gid 0 inside the user namespace).
	TargetUID *uint32
	TargetGID *uint32

	// NewSession starts the child in its own session (setsid) before exec.
	NewSession bool

	// DieWithParent arranges for the child to receive SIGKILL if the
	// process that created the sandbox dies first (PR_SET_PDEATHSIG).
	DieWithParent bool
}

// Describes a running sandbox process.
type SandboxProcess struct {

	// Unique sandbox identifier.
	uuid string

	// Process file descriptor.
	pidfd int

	// Process identifier.
	pid int

	// Network stack associated with the sandbox.
	network *netns.NetworkResult

	// Applied cgroup path.
	cgPath string
}

// Linux clone3 ABI struct (uapi/linux/sched.h)
type cloneArgs struct {

	// CLONE_* flags
	Flags uint64

	// int *pidfd (user pointer)
	Pidfd uint64

	// int *ctid
	ChildTid uint64

	// int *ptid
	ParentTid uint64

	// exit signal (e.g., SIGCHLD)
	ExitSignal uint64

	// child stack (0 = inherit)
	Stack uint64

	// size of stack
	StackSize uint64

	// TLS pointer
	TLS uint64

	// pid_t *set_tid
	SetTid uint64

	// len(set_tid)
	SetTidSize uint64

	// int *cgroup fd (since 5.7)
	Cgroup uint64
}

// Default namespace flags for the sandbox.
var defaultFlags = unix.CLONE_NEWPID |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC |
	unix.CLONE_PIDFD |
	unix.CLONE_NEWCGROUP |
	unix.CLONE_NEWTIME |
	unix.CLONE_NEWNS

/**
 * @return clone3 flags based on the sandbox options.
 */
func createSandboxFlags(opts *SandboxOptions) int {
	flags := defaultFlags

	// If host network is used, we don't create a new network namespace.
	if opts.Net != netns.NetHost {
		flags |= unix.CLONE_NEWNET
	}

	// If user namespace is not set to host, create a new user namespace.
	if opts.NamespaceMode != UserNamespaceHost {
		flags |= unix.CLONE_NEWUSER
	}

	return flags
}

/**
 * Create and start a new sandboxed process with the specified options
 * in new namespaces using the clone3 syscall.
 * @param opts the sandbox options
 * @return the sandbox process descriptor, or an error if any
 */
func NewSandbox(opts *SandboxOptions) (*SandboxProcess, error) {
	process := &SandboxProcess{
		uuid:  uuid.New().String(),
		pidfd: -1,
		pid:   -1,
	}
	flags := createSandboxFlags(opts)

	cloneArgs := cloneArgs{
		Flags:      uint64(flags),
		Pidfd:      uint64(uintptr(unsafe.Pointer(&process.pidfd))),
		ExitSignal: uint64(unix.SIGCHLD),
	}

	// Check whether the current user is root.
	if unix.Geteuid() != 0 {
		return nil, fmt.Errorf("kage-sandbox must be run as root or with sudo")
	}

	// Create a synchronization pipe between parent and child.
	rfd, wfd, err := MakeSyncPipe()
	if err != nil {
		return nil, err
	}

	// Call clone3 to create the new process in a new namespace.
	pid, _, errno := unix.Syscall(
		unix.SYS_CLONE3,
		uintptr(unsafe.Pointer(&cloneArgs)),
		uintptr(unsafe.Sizeof(cloneArgs)),
		0,
	)
	if errno != 0 {
		ClosePipe(rfd, wfd)
		return nil, fmt.Errorf("cannot create sandbox: %w", errno)
	}

	if pid == 0 {
		// Wait for parent to finish setup before proceeding.
		if err := WaitForParent(rfd); err != nil {
			unix.Exit(1)
		}

		// Set the sandbox hostname.
		if opts.Hostname != "" {
			if err := unix.Sethostname([]byte(opts.Hostname)); err != nil {
				logging.Log.Warn("setting sandbox hostname failed", slog.Any("err", err))
			}
		}

		// Die when the parent that created the sandbox dies.
		if opts.DieWithParent {
			if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
				logging.Log.Warn("setting PDEATHSIG failed", slog.Any("err", err))
			}
		}

		// Start a new session so the sandboxed process isn't a session
		// leader's controlling-terminal dependent.
		if opts.NewSession {
			if _, err := unix.Setsid(); err != nil {
				logging.Log.Warn("setsid failed", slog.Any("err", err))
			}
		}

		// Setup filesystem.
		if err := rootfs.SetupFS(&rootfs.FsOpts{
			Nameservers: opts.NameServ,
			Hostname:    opts.Hostname,
			FS:          opts.FS,
			ReadOnly:    opts.ReadOnly,
			MountRO:     opts.MountRO,
			MountRW:     opts.MountRW,
			TmpfsPaths:  opts.TmpfsPaths,
			Storage:     opts.Storage,
		}); err != nil {
			logging.Log.Error("failed to setup filesystem", slog.Any("err", err))
			unix.Exit(1)
		}

		// Change to the requested working directory, now that pivot_root
		// has switched us into the sandbox rootfs.
		if opts.Cwd != "" {
			if err := unix.Chdir(opts.Cwd); err != nil {
				logging.Log.Error("failed to chdir", slog.Any("err", err))
				unix.Exit(1)
			}
		}

		// Drop capabilities.
		if err := opts.Capabilities.Apply(); err != nil {
			logging.Log.Error("failed to apply capabilities", slog.Any("err", err))
			unix.Exit(1)
		}

		// Drop to the target uid/gid, if requested. Must run after the
		// capability sets are in place and before seccomp, since the
		// default profile denies nothing related to identity changes but
		// a minimal allowlist profile would.
		if opts.TargetGID != nil {
			if err := unix.Setresgid(int(*opts.TargetGID), int(*opts.TargetGID), int(*opts.TargetGID)); err != nil {
				logging.Log.Error("failed to set target gid", slog.Any("err", err))
				unix.Exit(1)
			}
		}
		if opts.TargetUID != nil {
			if err := unix.Setresuid(int(*opts.TargetUID), int(*opts.TargetUID), int(*opts.TargetUID)); err != nil {
				logging.Log.Error("failed to set target uid", slog.Any("err", err))
				unix.Exit(1)
			}
		}

		// Setup seccomp filters.
		if err := setupSeccomp(opts); err != nil {
			logging.Log.Error("failed to setup seccomp rules", slog.Any("err", err))
			unix.Exit(1)
		}

		// Execute the specified command in the process.
		err = unix.Exec(opts.Commands[0], opts.Commands, opts.Env.ToStringArray())

		// If execve returns, something failed.
		logging.Log.Error("failed to execute process", slog.Any("err", err))
		unix.Exit(127)
	}

	// Set up user and group mappings for the child.
	if opts.NamespaceMode != UserNamespaceHost {
		if err := SetupIdMappings(int(pid)); err != nil {
			ClosePipe(rfd, wfd)
			return nil, err
		}
	}

	// Setup CGroup limits.
	cgPath, err := SetupCgroupLimits(int(pid), opts.CPUs, opts.Memory)
	if err != nil {
		ClosePipe(rfd, wfd)
		return nil, err
	}

	// Setup networking if using bridged networks.
	if opts.Net != netns.NetHost && opts.Net != netns.NetNone {
		result, err := netns.SetupContainerNetworking(netns.NetworkConfig{
			ChildPID: int(pid),
			Mode:     opts.Net,
		})
		if err != nil {
			ClosePipe(rfd, wfd)
			return nil, err
		}
		process.network = result
	}

	// Saving child process information.
	process.pidfd = int(process.pidfd)
	process.pid = int(pid)
	process.cgPath = cgPath

	// Signal the child to continue.
	if err := SignalChild(wfd); err != nil {
		return nil, err
	}

	return process, nil
}

/**
 * Waits for the sandboxed process to exit, and returns its exit status.
 * Also performs cleanup of cgroups, network interfaces, and IPAM allocations.
 * @return the exit status code, or an error if any
 */
func (p *SandboxProcess) Wait() (int, error) {
	if p == nil || p.pid <= 0 {
		return 0, fmt.Errorf("invalid process")
	}
	defer func() {
		_ = CleanupCgroup(p.cgPath)
	}()

	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if wpid == p.pid {
			break
		}
	}

	// Release IPAM allocation.
	if p.network != nil {
		if err := p.network.Cleanup(); err != nil {
			logging.Log.Warn("failed to cleanup networking", slog.Any("err", err))
		}
	}

	if ws.Exited() {
		return ws.ExitStatus(), nil
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return 0, nil
}
