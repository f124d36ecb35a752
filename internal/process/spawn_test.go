//go:build linux

package process

import "testing"

func TestBuildArgvEnvNetworkSkipsHelper(t *testing.T) {
	argv, _ := buildArgvEnv(SpawnOptions{
		Network: true,
		Command: "/bin/echo",
		Args:    []string{"hi"},
	})
	if argv[0] != "/bin/echo" || argv[1] != "hi" {
		t.Fatalf("unexpected argv: %v", argv)
	}
}

func TestBuildArgvEnvSandboxedPrependsHelper(t *testing.T) {
	uid := uint32(2001)
	argv, _ := buildArgvEnv(SpawnOptions{
		Command:        "/bin/sh",
		Args:           []string{"-c", "true"},
		UID:            &uid,
		SeccompProfile: "nodejs",
		TmpfsPaths:     []string{"/scratch"},
	})
	if argv[0] != sandboxHelperPath {
		t.Fatalf("expected helper prefix, got %v", argv)
	}
	found := map[string]bool{}
	for _, a := range argv {
		found[a] = true
	}
	for _, want := range []string{"--uid=2001", "--no-network", "--seccomp=nodejs", "--tmpfs=/scratch", "--"} {
		if !found[want] {
			t.Fatalf("missing %q in argv %v", want, argv)
		}
	}
	last := argv[len(argv)-4:]
	if last[0] != "--" || last[1] != "/bin/sh" || last[2] != "-c" {
		t.Fatalf("command not trailing argv correctly: %v", argv)
	}
}

func TestAllocHandleMonotonic(t *testing.T) {
	r := NewRegistry()
	if h := r.allocHandle(); h != "proc-0" {
		t.Fatalf("expected proc-0, got %s", h)
	}
	if h := r.allocHandle(); h != "proc-1" {
		t.Fatalf("expected proc-1, got %s", h)
	}
}

func TestRegistryLenRoundTrips(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
	rec := &Record{Handle: "proc-1"}
	r.insert(rec)
	if r.Len() != 1 {
		t.Fatalf("expected len 1 after insert")
	}
	r.Remove(rec.Handle)
	if r.Len() != 0 {
		t.Fatalf("expected len 0 after remove")
	}
}

func TestIsRunningFalseForUnknownHandle(t *testing.T) {
	r := NewRegistry()
	if r.IsRunning("proc-404") {
		t.Fatalf("expected unknown handle to report not running")
	}
}
