package rootfs

import (
	"os"
	"path"
)

// MountTmp ensures that /tmp, /run, and /var/tmp exist within the given base
// path, with /tmp and /var/tmp world-writable and sticky (mode 1777) and
// /run mode 0755. If the base path is empty, the function does nothing and
// returns nil.
func MountTmp(base string) error {
	if base == "" {
		return nil
	}

	for _, dir := range []string{"/tmp", "/var/tmp"} {
		p := path.Join(base, dir)
		if err := os.MkdirAll(p, 0o1777); err != nil {
			return err
		}
		if err := os.Chmod(p, 0o1777); err != nil {
			return err
		}
	}

	run := path.Join(base, "/run")
	return os.MkdirAll(run, 0o755)
}
