package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/maintenance-supervisor/internal/bootstrap"
	"github.com/kirillkom/maintenance-supervisor/internal/cli"
	"github.com/kirillkom/maintenance-supervisor/internal/config"
	"github.com/kirillkom/maintenance-supervisor/internal/observability/logging"
)

// Set by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersionInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	load := func(ctx context.Context) (*cli.Services, func(), error) {
		// stdout carries command output and the MCP protocol.
		logger := logging.NewJSONLoggerTo(os.Stderr, "supervisorctl", os.Getenv("LOG_LEVEL"))
		slog.SetDefault(logger)
		cfg := config.Load()
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return &cli.Services{
			Processor: app.Pipeline,
			Records:   app.Pipeline,
			Stats:     app.Stats,
			Reports:   app.Reports,
			Inbox:     app.Inbox,
			Archive:   app.Archive,
		}, app.Close, nil
	}

	if err := cli.Execute(ctx, load); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
