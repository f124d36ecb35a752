//go:build linux

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dnakov/kage/internal/netns"
	"github.com/dnakov/kage/internal/rootfs"
	"github.com/dnakov/kage/internal/sandbox"
	"github.com/dnakov/kage/internal/seccomp"
)

const usage = `usage: kage-sandbox [OPTIONS] -- COMMAND [ARGS...]

Options:
  --uid=U                        target uid inside the sandbox
  --gid=G                        target gid inside the sandbox
  --no-network                   unshare the network namespace (default)
  --network                      keep the host's network namespace
  --seccomp=PROFILE               default|nodejs|python|minimal
  --ro-bind=SRC[:DEST]            read-only bind mount (repeatable)
  --bind=SRC[:DEST]               read-write bind mount (repeatable)
  --tmpfs=PATH                    tmpfs mount at PATH (repeatable)
  --cwd=PATH                      working directory for COMMAND
  --help                          print this message and exit
`

type parsedArgs struct {
	uid            *uint32
	gid            *uint32
	net            netns.NetworkMode
	seccompProfile seccomp.Profile
	roBinds        []rootfs.MountSpec
	rwBinds        []rootfs.MountSpec
	tmpfsPaths     []string
	cwd            string
	command        []string
}

// parseArgs parses the sandbox-helper CLI surface. Returns (nil, nil) when
// --help was given.
func parseArgs(args []string) (*parsedArgs, error) {
	p := &parsedArgs{
		net:            netns.NetNone,
		seccompProfile: seccomp.ProfileDefault,
	}

	i := 0
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			i++
			break
		}
		switch {
		case arg == "--help" || arg == "-h":
			fmt.Print(usage)
			return nil, nil
		case arg == "--no-network":
			p.net = netns.NetNone
		case arg == "--network":
			p.net = netns.NetHost
		case strings.HasPrefix(arg, "--uid="):
			v, err := parseUint32(strings.TrimPrefix(arg, "--uid="))
			if err != nil {
				return nil, fmt.Errorf("bad --uid: %w", err)
			}
			p.uid = &v
		case strings.HasPrefix(arg, "--gid="):
			v, err := parseUint32(strings.TrimPrefix(arg, "--gid="))
			if err != nil {
				return nil, fmt.Errorf("bad --gid: %w", err)
			}
			p.gid = &v
		case strings.HasPrefix(arg, "--seccomp="):
			prof := seccomp.Profile(strings.TrimPrefix(arg, "--seccomp="))
			switch prof {
			case seccomp.ProfileDefault, seccomp.ProfileNodeJS, seccomp.ProfilePython, seccomp.ProfileMinimal:
				p.seccompProfile = prof
			default:
				return nil, fmt.Errorf("bad --seccomp %q (default|nodejs|python|minimal)", prof)
			}
		case strings.HasPrefix(arg, "--ro-bind="):
			spec, err := parseBind(strings.TrimPrefix(arg, "--ro-bind="), true)
			if err != nil {
				return nil, err
			}
			p.roBinds = append(p.roBinds, spec)
		case strings.HasPrefix(arg, "--bind="):
			spec, err := parseBind(strings.TrimPrefix(arg, "--bind="), false)
			if err != nil {
				return nil, err
			}
			p.rwBinds = append(p.rwBinds, spec)
		case strings.HasPrefix(arg, "--tmpfs="):
			path := strings.TrimPrefix(arg, "--tmpfs=")
			if !filepath.IsAbs(path) {
				return nil, fmt.Errorf("bad --tmpfs %q: must be absolute", path)
			}
			p.tmpfsPaths = append(p.tmpfsPaths, path)
		case strings.HasPrefix(arg, "--cwd="):
			p.cwd = strings.TrimPrefix(arg, "--cwd=")
		default:
			return nil, fmt.Errorf("unknown option %q", arg)
		}
	}

	p.command = args[i:]
	if len(p.command) == 0 {
		return nil, fmt.Errorf("missing command; usage: kage-sandbox [OPTIONS] -- COMMAND [ARGS...]")
	}

	ro := rootfs.DefaultSystemBinds()
	p.roBinds = append(ro, p.roBinds...)

	return p, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseBind parses a SRC[:DEST] mount spec; DEST defaults to SRC.
func parseBind(spec string, ro bool) (rootfs.MountSpec, error) {
	host, dest, ok := strings.Cut(spec, ":")
	if !ok {
		dest = host
	}
	if host == "" || dest == "" {
		return rootfs.MountSpec{}, fmt.Errorf("bad mount %q (SRC[:DEST])", spec)
	}
	if !filepath.IsAbs(dest) {
		return rootfs.MountSpec{}, fmt.Errorf("DEST must be absolute: %q", spec)
	}
	return rootfs.MountSpec{Host: host, Dest: dest, RO: ro}, nil
}

// buildEnv applies the sandbox-helper's fixed environment policy: whatever
// the helper itself inherited, with PATH/HOME/TERM/IS_SANDBOX forced.
func buildEnv() sandbox.EnvVars {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	merged["PATH"] = "/usr/local/bin:/usr/bin:/bin"
	merged["HOME"] = "/tmp"
	merged["TERM"] = "xterm-256color"
	merged["IS_SANDBOX"] = "yes"

	out := make(sandbox.EnvVars, 0, len(merged))
	for _, k := range []string{"PATH", "HOME", "TERM", "IS_SANDBOX"} {
		out = append(out, sandbox.EnvVar{Key: k, Val: merged[k]})
		delete(merged, k)
	}
	extras := make([]string, 0, len(merged))
	for k := range merged {
		extras = append(extras, k)
	}
	for _, k := range extras {
		out = append(out, sandbox.EnvVar{Key: k, Val: merged[k]})
	}
	return out
}
