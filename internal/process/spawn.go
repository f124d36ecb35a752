//go:build linux

package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// sandboxHelperPath is where kage-sandbox is installed in the guest image.
const sandboxHelperPath = "/usr/local/bin/kage-sandbox"

// OutputFunc is invoked on every chunk of data read from a child's
// stdout or stderr (stream is "stdout" or "stderr"; for a PTY record
// stream is always "stdout").
type OutputFunc func(rec *Record, stream string, data []byte)

// ExitFunc is invoked once, by the reaper, after waitpid returns.
type ExitFunc func(rec *Record, exitCode int, signal int)

// SpawnOptions describes a single spawn request.
type SpawnOptions struct {
	CorrelationID uint32
	Command       string
	Args          []string
	Cwd           string
	Env           []string

	// Network true keeps the process in the host network namespace and
	// skips the sandbox helper entirely; credentials are dropped
	// in-process via the child's SysProcAttr instead.
	Network bool

	UID *uint32
	GID *uint32

	SeccompProfile string
	ROBinds        []string
	RWBinds        []string
	TmpfsPaths     []string

	PTY  bool
	Rows uint16
	Cols uint16
}

// Spawn allocates a handle, starts the child, and launches its forwarder
// and reaper goroutines. It returns once the child has been started (not
// once it exits).
func (r *Registry) Spawn(opts SpawnOptions, onOutput OutputFunc, onExit ExitFunc) (*Record, error) {
	argv, env := buildArgvEnv(opts)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env

	if opts.Network {
		// No sandbox helper in the chain: drop privileges and chdir
		// directly on the child's SysProcAttr.
		cmd.Dir = opts.Cwd
		attr := &syscall.SysProcAttr{}
		if opts.UID != nil || opts.GID != nil {
			cred := &syscall.Credential{}
			if opts.UID != nil {
				cred.Uid = *opts.UID
			}
			if opts.GID != nil {
				cred.Gid = *opts.GID
			}
			attr.Credential = cred
		}
		cmd.SysProcAttr = attr
	}

	rec := &Record{
		Handle:        r.allocHandle(),
		UUID:          uuid.New(),
		CorrelationID: opts.CorrelationID,
		cmd:           cmd,
	}

	if opts.PTY {
		rec.Kind = IOPTY
		ws := &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}
		if ws.Rows == 0 {
			ws.Rows = 24
		}
		if ws.Cols == 0 {
			ws.Cols = 80
		}
		master, err := pty.StartWithAttrs(cmd, ws, cmd.SysProcAttr)
		if err != nil {
			return nil, fmt.Errorf("process: starting pty child: %w", err)
		}
		rec.master = master
	} else {
		rec.Kind = IOPipes
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("process: stdin pipe: %w", err)
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("process: stdout pipe: %w", err)
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("process: stderr pipe: %w", err)
		}
		cmd.Stdin = stdinR
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("process: starting child: %w", err)
		}
		// The parent holds the opposite ends; the child's copies (made
		// by fork) are closed here so EOF propagates correctly.
		_ = stdinR.Close()
		_ = stdoutW.Close()
		_ = stderrW.Close()

		rec.stdin = stdinW
		rec.stdout = stdoutR
		rec.stderr = stderrR
	}

	rec.PID = cmd.Process.Pid
	r.insert(rec)

	if rec.Kind == IOPTY {
		go r.forwardReader(rec, "stdout", rec.master, onOutput)
	} else {
		go r.forwardReader(rec, "stdout", rec.stdout, onOutput)
		go r.forwardReader(rec, "stderr", rec.stderr, onOutput)
	}
	go r.reap(rec, onExit)

	return rec, nil
}

// buildArgvEnv constructs the argv/envp pair per the spawn procedure: when
// network is disabled, the sandbox helper is prepended with the uid/gid/
// seccomp/bind/tmpfs/cwd flags that carry the sandbox description through
// to the helper's own CLI surface.
func buildArgvEnv(opts SpawnOptions) (argv []string, env []string) {
	env = opts.Env
	if len(env) == 0 {
		env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=/tmp", "IS_SANDBOX=yes"}
	}

	if opts.Network {
		argv = append([]string{opts.Command}, opts.Args...)
		return argv, env
	}

	argv = []string{sandboxHelperPath}
	if opts.UID != nil {
		argv = append(argv, fmt.Sprintf("--uid=%d", *opts.UID))
	}
	if opts.GID != nil {
		argv = append(argv, fmt.Sprintf("--gid=%d", *opts.GID))
	}
	argv = append(argv, "--no-network")
	profile := opts.SeccompProfile
	if profile == "" {
		profile = "default"
	}
	argv = append(argv, fmt.Sprintf("--seccomp=%s", profile))
	for _, b := range opts.ROBinds {
		argv = append(argv, fmt.Sprintf("--ro-bind=%s", b))
	}
	for _, b := range opts.RWBinds {
		argv = append(argv, fmt.Sprintf("--bind=%s", b))
	}
	for _, t := range opts.TmpfsPaths {
		argv = append(argv, fmt.Sprintf("--tmpfs=%s", t))
	}
	if opts.Cwd != "" {
		argv = append(argv, fmt.Sprintf("--cwd=%s", opts.Cwd))
	}
	argv = append(argv, "--", opts.Command)
	argv = append(argv, opts.Args...)
	return argv, env
}
