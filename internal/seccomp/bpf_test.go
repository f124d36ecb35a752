package seccomp

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestBuildDenylistTerminalOrder(t *testing.T) {
	prog, err := BuildDenylist([]string{"ptrace", "mount", "pivot_root"})
	if err != nil {
		t.Fatalf("BuildDenylist: %v", err)
	}
	n := len(prog.Instructions)
	epermRet := prog.Instructions[n-2]
	allowRet := prog.Instructions[n-1]
	if epermRet.Code != bpfRetK || epermRet.K != seccompRetErrno|uint32(unix.EPERM) {
		t.Fatalf("second-to-last instruction = %+v, want EPERM RET", epermRet)
	}
	if allowRet.Code != bpfRetK || allowRet.K != seccompRetAllow {
		t.Fatalf("last instruction = %+v, want ALLOW RET", allowRet)
	}
}

func TestBuildDenylistJumpOffsetsInBounds(t *testing.T) {
	names := []string{"ptrace", "mount", "umount2", "pivot_root", "reboot"}
	prog, err := BuildDenylist(names)
	if err != nil {
		t.Fatalf("BuildDenylist: %v", err)
	}
	n := len(prog.Instructions)
	for i, ins := range prog.Instructions {
		if ins.Code != bpfJeqK {
			continue
		}
		if jt := i + 1 + int(ins.Jt); jt >= n {
			t.Fatalf("instruction %d: jt offset lands at %d, out of bounds (len %d)", i, jt, n)
		}
		if jf := i + 1 + int(ins.Jf); jf >= n {
			t.Fatalf("instruction %d: jf offset lands at %d, out of bounds (len %d)", i, jf, n)
		}
	}
}

func TestBuildDenylistLastSyscallFallsThroughToAllow(t *testing.T) {
	names := []string{"ptrace", "mount"}
	prog, err := BuildDenylist(names)
	if err != nil {
		t.Fatalf("BuildDenylist: %v", err)
	}
	n := len(prog.Instructions)
	lastJeqIdx := n - 3 // load at 0, len(names) JEQs, then two terminal RETs
	last := prog.Instructions[lastJeqIdx]
	landedOnMismatch := lastJeqIdx + 1 + int(last.Jf)
	if landedOnMismatch != n-1 {
		t.Fatalf("last JEQ's mismatch branch lands at instruction %d, want %d (the ALLOW terminal)", landedOnMismatch, n-1)
	}
}

func TestBuildAllowlistMatchReachesAllow(t *testing.T) {
	names := []string{"read", "write", "openat"}
	prog, err := BuildAllowlist(names)
	if err != nil {
		t.Fatalf("BuildAllowlist: %v", err)
	}
	n := len(prog.Instructions)
	for i, ins := range prog.Instructions {
		if ins.Code != bpfJeqK {
			continue
		}
		landed := i + 1 + int(ins.Jt)
		if landed != n-1 {
			t.Fatalf("instruction %d: match branch lands at %d, want %d (the ALLOW terminal)", i, landed, n-1)
		}
	}
}

func TestBuildDenylistUnknownSyscall(t *testing.T) {
	if _, err := BuildDenylist([]string{"not_a_real_syscall"}); err == nil {
		t.Fatal("expected error for unknown syscall name")
	}
}

func TestResolveProfiles(t *testing.T) {
	for _, p := range []Profile{ProfileDefault, ProfileNodeJS, ProfilePython, ProfileMinimal, ""} {
		if _, err := Resolve(p); err != nil {
			t.Fatalf("Resolve(%q): %v", p, err)
		}
	}
	if _, err := Resolve(Profile("bogus")); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
