//go:build linux

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// startCommand, webCommand, and stopCommand are intentional stubs: the
// hypervisor launcher (QEMU invocation, port allocation, boot-readiness
// probing) and the web frontend are out of scope for this module, which
// only implements the guest-side control plane and isolation engine that
// a launcher would talk to once the guest is up.

func startCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Boot a guest VM from rootfs (not implemented by this module)",
		ArgsUsage: "<rootfs> [--kernel P] [--initrd P] [--share HOST TAG]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kernel"},
			&cli.StringFlag{Name: "initrd"},
			&cli.StringSliceFlag{Name: "share"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return fmt.Errorf("kagectl start: hypervisor launcher is out of scope; boot a guest and run kaged yourself, then use exec/install")
		},
	}
}

func webCommand() *cli.Command {
	return &cli.Command{
		Name:      "web",
		Usage:     "Serve a web terminal frontend against a guest (not implemented by this module)",
		ArgsUsage: "<port> [http-port]",
		Action: func(ctx context.Context, c *cli.Command) error {
			return fmt.Errorf("kagectl web: web frontend is out of scope")
		},
	}
}

func stopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "Stop a guest VM (not implemented by this module)",
		ArgsUsage: "<port>",
		Action: func(ctx context.Context, c *cli.Command) error {
			return fmt.Errorf("kagectl stop: hypervisor lifecycle management is out of scope")
		},
	}
}
