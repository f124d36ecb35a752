package rootfs

import "os"

// defaultSystemPaths are bind-mounted read-only into every sandbox rootfs
// that isn't FsHost, when they exist on the host. /etc/resolv.conf and
// /etc/hosts are not listed here even though the reference bind list names
// them: SetupEtc already gives the sandbox a working resolv.conf (built
// from the configured nameservers rather than a host bind, so sandboxes
// don't inherit systemd-resolved stub addresses they can't reach) and
// bind-mounts /etc/hosts itself.
var defaultSystemPaths = []string{
	"/usr", "/lib", "/lib64", "/bin", "/sbin",
	"/etc/passwd", "/etc/group",
	"/etc/ssl", "/etc/ca-certificates",
}

// DefaultSystemBinds returns the fixed read-only bind list for the paths in
// defaultSystemPaths that exist on the current host.
func DefaultSystemBinds() []MountSpec {
	specs := make([]MountSpec, 0, len(defaultSystemPaths))
	for _, p := range defaultSystemPaths {
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		specs = append(specs, MountSpec{Host: p, Dest: p, RO: true})
	}
	return specs
}
