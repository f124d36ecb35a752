// Package seccomp builds and installs classic BPF seccomp filters selected
// by profile tag (spec §4.8). The program is built at runtime rather than
// via github.com/seccomp/libseccomp-golang (the teacher's dependency for
// this concern) because the spec pins the exact instruction shape — last
// two instructions, jump-offset arithmetic — as a testable property, and
// libseccomp-golang does not expose raw instruction construction.
package seccomp

import "fmt"

// Profile names a seccomp filter shape.
type Profile string

const (
	ProfileDefault Profile = "default"
	ProfileNodeJS  Profile = "nodejs"
	ProfilePython  Profile = "python"
	ProfileMinimal Profile = "minimal"
)

// defaultDenylist blocks kernel-control syscalls; everything else is
// allowed (spec §4.8).
var defaultDenylist = []string{
	"ptrace", "process_vm_readv", "process_vm_writev",
	"mount", "umount2", "pivot_root",
	"reboot", "swapon", "swapoff",
	"init_module", "delete_module", "finit_module",
	"kexec_load", "kexec_file_load",
	"acct", "settimeofday", "clock_settime", "clock_adjtime", "adjtimex",
}

// minimalAllowlist permits only a small set of syscalls; everything else is
// denied (spec §4.8).
var minimalAllowlist = []string{
	"read", "write", "openat", "close", "fstat", "mmap", "mprotect",
	"munmap", "brk", "exit", "exit_group", "rt_sigreturn", "futex",
}

// Resolve builds and returns the program for the given profile tag.
// "python" is an alias for "default" (spec §4.8).
func Resolve(p Profile) (Program, error) {
	switch p {
	case ProfileDefault, ProfileNodeJS, ProfilePython, "":
		return BuildDenylist(defaultDenylist)
	case ProfileMinimal:
		return BuildAllowlist(minimalAllowlist)
	default:
		return Program{}, fmt.Errorf("seccomp: unknown profile %q", p)
	}
}
