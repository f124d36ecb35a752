//go:build linux

package fsops

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestInstallBinaryWritesExecutableMode(t *testing.T) {
	dir := t.TempDir()
	old := installDir
	installDir = dir
	defer func() { installDir = old }()

	data := base64.StdEncoding.EncodeToString([]byte("#!/bin/sh\necho hi\n"))
	if err := InstallBinary("greet", data, true); err != nil {
		t.Fatalf("install: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "greet"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected 0755, got %v", info.Mode().Perm())
	}
}

func TestInstallBinaryRejectsBadBase64(t *testing.T) {
	dir := t.TempDir()
	old := installDir
	installDir = dir
	defer func() { installDir = old }()

	if err := InstallBinary("x", "not-base64!!", false); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestReadFileRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big")
	if err := os.WriteFile(path, make([]byte, 16), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	old := MaxReadSize
	MaxReadSize = 8
	defer func() { MaxReadSize = old }()

	if _, err := ReadFile(path); err == nil {
		t.Fatalf("expected oversized read to fail")
	}
}

func TestReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")
	want := []byte{0x01, 0x02, 0x03}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
