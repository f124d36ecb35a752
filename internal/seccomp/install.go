//go:build linux

package seccomp

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SetNoNewPrivs sets PR_SET_NO_NEW_PRIVS on the calling thread, required
// before an unprivileged process may install a seccomp filter.
func SetNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("seccomp: set no_new_privs: %w", err)
	}
	return nil
}

// Install loads prog as the calling thread's seccomp filter via
// PR_SET_SECCOMP / SECCOMP_MODE_FILTER. The caller must have already
// called SetNoNewPrivs, or hold CAP_SYS_ADMIN.
func Install(prog Program) error {
	fprog := unix.SockFprog{
		Len:    uint16(len(prog.Instructions)),
		Filter: &prog.Instructions[0],
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_PRCTL, unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&fprog))); errno != 0 {
		return fmt.Errorf("seccomp: install filter: %w", errno)
	}
	return nil
}
