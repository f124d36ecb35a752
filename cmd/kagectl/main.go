//go:build linux

// Command kagectl is the host-side CLI: it drives a running kaged guest
// over its WebSocket control plane (exec, install) and stubs out the
// hypervisor-launcher subcommands (start, stop, web) that this module
// does not implement.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "kagectl",
		Usage: "Control a kage guest's control plane",
		Commands: []*cli.Command{
			startCommand(),
			execCommand(),
			installCommand(),
			webCommand(),
			stopCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kagectl:", err)
		os.Exit(1)
	}
}
