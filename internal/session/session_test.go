//go:build linux

package session

import (
	"errors"
	"testing"
)

type fakeProvisioner struct {
	groups    map[uint32]string
	users     map[uint32]string
	userCalls int
	chowned   []string
	deleted   []string
	deleteErr error
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{groups: map[uint32]string{}, users: map[uint32]string{}}
}

func (f *fakeProvisioner) EnsureGroup(gid uint32, name string) error {
	f.groups[gid] = name
	return nil
}

func (f *fakeProvisioner) EnsureUser(uid, gid uint32, name, home, shell string) error {
	f.users[uid] = name
	f.userCalls++
	return nil
}

func (f *fakeProvisioner) DeleteUser(name string) error {
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func (f *fakeProvisioner) RecursiveChown(path string, uid, gid uint32) error {
	f.chowned = append(f.chowned, path)
	return nil
}

func TestCreateIsIdempotent(t *testing.T) {
	prov := newFakeProvisioner()
	reg := NewRegistry(prov)

	first, err := reg.Create(2001, "")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := reg.Create(2001, "")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if *first != *second {
		t.Fatalf("expected identical records, got %+v vs %+v", first, second)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected exactly one session record, got %d", reg.Len())
	}
	if prov.userCalls != 1 {
		t.Fatalf("expected useradd invoked once, got %d", prov.userCalls)
	}
}

func TestCreateDerivesUsernameAndHome(t *testing.T) {
	reg := NewRegistry(newFakeProvisioner())
	rec, err := reg.Create(3000, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Username != "session3000" {
		t.Fatalf("expected derived username, got %q", rec.Username)
	}
	if rec.HomeDir != "/home/3000" {
		t.Fatalf("expected derived home dir, got %q", rec.HomeDir)
	}
	if rec.Gid != rec.Uid {
		t.Fatalf("expected gid == uid, got gid=%d uid=%d", rec.Gid, rec.Uid)
	}
}

func TestDestroyRemovesRecordEvenIfBestEffortStepsFail(t *testing.T) {
	prov := newFakeProvisioner()
	prov.deleteErr = errors.New("userdel failed")
	reg := NewRegistry(prov)
	if _, err := reg.Create(4000, "builder"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Destroy(4000, false); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, ok := reg.Get(4000); ok {
		t.Fatalf("expected record removed after destroy")
	}
}

func TestDestroyUnknownUidErrors(t *testing.T) {
	reg := NewRegistry(newFakeProvisioner())
	if err := reg.Destroy(9999, false); err == nil {
		t.Fatalf("expected error destroying unknown uid")
	}
}
