//go:build linux

package seccomp

import "golang.org/x/sys/unix"

// syscallNumbers maps the syscall names used by the built-in profiles to
// their numbers on the current architecture, via the unix package's
// per-arch SYS_* constants.
var syscallNumbers = map[string]uintptr{
	"ptrace":            unix.SYS_PTRACE,
	"process_vm_readv":  unix.SYS_PROCESS_VM_READV,
	"process_vm_writev": unix.SYS_PROCESS_VM_WRITEV,
	"mount":             unix.SYS_MOUNT,
	"umount2":           unix.SYS_UMOUNT2,
	"pivot_root":        unix.SYS_PIVOT_ROOT,
	"reboot":            unix.SYS_REBOOT,
	"swapon":            unix.SYS_SWAPON,
	"swapoff":           unix.SYS_SWAPOFF,
	"init_module":       unix.SYS_INIT_MODULE,
	"delete_module":     unix.SYS_DELETE_MODULE,
	"finit_module":      unix.SYS_FINIT_MODULE,
	"kexec_load":        unix.SYS_KEXEC_LOAD,
	"kexec_file_load":   unix.SYS_KEXEC_FILE_LOAD,
	"acct":              unix.SYS_ACCT,
	"settimeofday":      unix.SYS_SETTIMEOFDAY,
	"clock_settime":     unix.SYS_CLOCK_SETTIME,
	"clock_adjtime":     unix.SYS_CLOCK_ADJTIME,
	"adjtimex":          unix.SYS_ADJTIMEX,
	"read":              unix.SYS_READ,
	"write":             unix.SYS_WRITE,
	"openat":            unix.SYS_OPENAT,
	"close":             unix.SYS_CLOSE,
	"fstat":             unix.SYS_FSTAT,
	"mmap":              unix.SYS_MMAP,
	"mprotect":          unix.SYS_MPROTECT,
	"munmap":            unix.SYS_MUNMAP,
	"brk":               unix.SYS_BRK,
	"exit":              unix.SYS_EXIT,
	"exit_group":        unix.SYS_EXIT_GROUP,
	"rt_sigreturn":      unix.SYS_RT_SIGRETURN,
	"futex":             unix.SYS_FUTEX,
}
