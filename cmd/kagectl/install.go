//go:build linux

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dnakov/kage/internal/hostclient"
	"github.com/dnakov/kage/internal/protocol"
	"github.com/urfave/cli/v3"
)

// installCommand runs `kagectl install <port> <file>`: it base64-encodes
// the local file and sends a binary_install request, installing it at
// /usr/local/bin/<basename> in the guest, executable.
func installCommand() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "Install a local binary into a guest's /usr/local/bin",
		ArgsUsage: "<port> <file>",
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args().Slice()
			if len(args) != 2 {
				return fmt.Errorf("usage: kagectl install <port> <file>")
			}
			port, file := args[0], args[1]

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			client, err := hostclient.Connect("127.0.0.1:"+port, nil)
			if err != nil {
				return fmt.Errorf("connecting to guest: %w", err)
			}
			defer client.Close()

			req := protocol.BinaryInstallRequest{
				Name:       filepath.Base(file),
				Data:       base64.StdEncoding.EncodeToString(data),
				Executable: true,
			}
			if err := client.SendRaw(protocol.TypeBinaryInstall, req); err != nil {
				return fmt.Errorf("sending binary_install: %w", err)
			}
			ev := <-client.Events()
			if ev.Kind == "error" {
				return fmt.Errorf("guest rejected install: %s", ev.Message)
			}
			fmt.Fprintf(os.Stdout, "installed %s\n", req.Name)
			return nil
		},
	}
}
