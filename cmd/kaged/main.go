//go:build linux

// Command kaged is the guest control-plane daemon: it accepts WebSocket
// connections from the host and answers spawn/stdin/kill/resize/mount/
// session/install/fs_read requests against the local process and session
// registries.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dnakov/kage/internal/daemon"
	"github.com/dnakov/kage/internal/logging"
)

func main() {
	level := parseLevel(os.Getenv("KAGE_LOG_LEVEL"))
	format := parseFormat(os.Getenv("KAGE_LOG_FORMAT"))
	logging.CreateLogger(&logging.LoggerOpts{LogLevel: level, LogFormat: format})

	port := os.Getenv("VMD_PORT")
	if port == "" {
		port = "8080"
	}

	srv := daemon.NewServer(nil)
	if err := srv.ListenAndServe("0.0.0.0:" + port); err != nil {
		fmt.Fprintln(os.Stderr, "kaged:", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseFormat(s string) logging.LogFormat {
	if s == "json" {
		return logging.LogJSON
	}
	return logging.LogText
}
