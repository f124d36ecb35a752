//go:build linux

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/dnakov/kage/internal/hostclient"
	"github.com/dnakov/kage/internal/protocol"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// execCommand runs `kagectl exec <port> [--raw] [--tty] -- <cmd> [args...]`.
// The exit code of the spawned command is propagated as kagectl's own exit
// code, per spec §6/§7.
func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a command inside a guest, sandboxed by default",
		ArgsUsage: "<port> [--raw] [--tty] -- <cmd> [args...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Run with the host network namespace and no sandbox wrapper",
			},
			&cli.BoolFlag{
				Name:  "tty",
				Usage: "Allocate a guest PTY and put the local terminal in raw mode",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args().Slice()
			if len(args) < 2 {
				return fmt.Errorf("usage: kagectl exec <port> [--raw] [--tty] -- <cmd> [args...]")
			}
			port, command, cmdArgs := args[0], args[1], args[2:]
			tty := c.Bool("tty")

			client, err := hostclient.Connect("127.0.0.1:"+port, nil)
			if err != nil {
				return fmt.Errorf("connecting to guest: %w", err)
			}
			defer client.Close()

			req := protocol.SpawnRequest{Command: command, Args: cmdArgs, Network: c.Bool("raw"), Pty: tty}
			resp, spawnErr := client.SpawnWithOptions(req)
			if spawnErr != nil {
				return fmt.Errorf("spawn failed: %w", spawnErr)
			}

			if tty && term.IsTerminal(int(os.Stdin.Fd())) {
				prevState, err := term.MakeRaw(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("putting terminal in raw mode: %w", err)
				}
				defer term.Restore(int(os.Stdin.Fd()), prevState)

				if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
					_ = client.Resize(resp.Handle, uint16(h), uint16(w))
				}

				go func() {
					r := bufio.NewReader(os.Stdin)
					buf := make([]byte, 4096)
					for {
						n, err := r.Read(buf)
						if n > 0 {
							_ = client.SendStdin(resp.ID, resp.Handle, string(buf[:n]))
						}
						if err != nil {
							return
						}
					}
				}()
			}

			for ev := range client.Events() {
				switch ev.Kind {
				case "stdout":
					fmt.Fprint(os.Stdout, ev.Data)
				case "stderr":
					fmt.Fprint(os.Stderr, ev.Data)
				case "exit":
					os.Exit(ev.Code)
				case "error":
					fmt.Fprintln(os.Stderr, "kagectl: guest error:", ev.Message)
					os.Exit(1)
				}
			}
			return nil
		},
	}
}
