package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tphakala/deckbridge/cmd"
	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/telemetry"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = buildinfo.UnknownValue
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return cmd.ExitError
	}

	build := buildinfo.NewContext(version, buildDate, systemID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = cmd.RootCommand(settings, build).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return cmd.ExitCode(err)
}

// systemID returns the persistent installation identifier, or an empty
// string when the config directory is not writable.
func systemID() string {
	path, err := conf.UserConfigPath()
	if err != nil {
		return ""
	}
	id, err := telemetry.LoadOrCreateSystemID(filepath.Dir(path))
	if err != nil {
		return ""
	}
	return id
}
