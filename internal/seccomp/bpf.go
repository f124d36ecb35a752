package seccomp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Classic BPF opcode fragments used by seccomp programs (linux/filter.h).
const (
	bpfLdAbs = 0x00 | 0x00 | 0x20 // BPF_LD | BPF_W | BPF_ABS
	bpfJeqK  = 0x05 | 0x10 | 0x00 // BPF_JMP | BPF_JEQ | BPF_K
	bpfRetK  = 0x06 | 0x00        // BPF_RET | BPF_K
)

// seccompDataNrOffset is offsetof(struct seccomp_data, nr): the syscall
// number is the first field (spec §4.2).
const seccompDataNrOffset = 0

// Seccomp return actions (linux/seccomp.h).
const (
	seccompRetAllow = 0x7FFF0000
	seccompRetErrno = 0x00050000
)

// Program is a built classic BPF seccomp filter, ready for installation.
type Program struct {
	Instructions []unix.SockFilter
}

// instr builds one BPF instruction.
func instr(code uint16, jt, jf uint8, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// lookupSyscall resolves a syscall name to its number on the current
// architecture via the unix package's SYS_* constants.
func lookupSyscall(name string) (uint32, error) {
	nr, ok := syscallNumbers[name]
	if !ok {
		return 0, fmt.Errorf("seccomp: unknown syscall %q", name)
	}
	return uint32(nr), nil
}

// BuildDenylist constructs a program with default action ALLOW: the nr load,
// one JEQ per denied syscall (on match, fall through to the EPERM terminal;
// on mismatch, advance to the next check), then the two terminal RETs in
// EPERM-then-ALLOW order. Jump offsets are computed against the actual
// final instruction count, not hardcoded, so they stay correct regardless
// of list length (spec §3 invariant, §9 redesign note).
func BuildDenylist(names []string) (Program, error) {
	prog := make([]unix.SockFilter, 0, len(names)+3)
	prog = append(prog, instr(bpfLdAbs, 0, 0, seccompDataNrOffset))

	// One JEQ per syscall. Instruction index i is at prog[i+1] (the load is
	// prog[0]). The two terminal RETs come immediately after all JEQs, at
	// indices len(names)+1 (EPERM) and len(names)+2 (ALLOW).
	for i, name := range names {
		nr, err := lookupSyscall(name)
		if err != nil {
			return Program{}, err
		}
		remaining := len(names) - i - 1 // JEQs still to come after this one
		// On match, skip the remaining JEQs and land on the EPERM terminal.
		jt := uint8(remaining)
		// On mismatch, fall through to the next JEQ — except for the last
		// check, where falling through would land on the EPERM terminal
		// instead of the intended default-ALLOW; skip one extra instruction
		// there so "no syscall matched" reaches the ALLOW terminal.
		jf := uint8(0)
		if remaining == 0 {
			jf = 1
		}
		prog = append(prog, instr(bpfJeqK, jt, jf, nr))
	}

	prog = append(prog, instr(bpfRetK, 0, 0, seccompRetErrno|uint32(unix.EPERM)))
	prog = append(prog, instr(bpfRetK, 0, 0, seccompRetAllow))

	return Program{Instructions: prog}, nil
}

// BuildAllowlist constructs a program with default action ERRNO(EPERM): the
// nr load, one JEQ per allowed syscall (on match, jump directly to the
// ALLOW terminal; on mismatch, fall through to the next check), then the
// two terminal RETs in EPERM-then-ALLOW order so the allow terminal sits
// exactly one instruction past the EPERM terminal (spec §4.8).
func BuildAllowlist(names []string) (Program, error) {
	prog := make([]unix.SockFilter, 0, len(names)+3)
	prog = append(prog, instr(bpfLdAbs, 0, 0, seccompDataNrOffset))

	for i, name := range names {
		nr, err := lookupSyscall(name)
		if err != nil {
			return Program{}, err
		}
		remaining := len(names) - i - 1
		// On match, jump past the remaining JEQs and the EPERM terminal,
		// landing on the ALLOW terminal. On mismatch, fall through (jf=0).
		jt := uint8(remaining + 1)
		jf := uint8(0)
		prog = append(prog, instr(bpfJeqK, jt, jf, nr))
	}

	prog = append(prog, instr(bpfRetK, 0, 0, seccompRetErrno|uint32(unix.EPERM)))
	prog = append(prog, instr(bpfRetK, 0, 0, seccompRetAllow))

	return Program{Instructions: prog}, nil
}
