// Command alerting matches incident events against alert rules and delivers
// notifications to email and webhook channels.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bissquit/incident-alerts/internal/app"
	"github.com/bissquit/incident-alerts/internal/config"
	"github.com/bissquit/incident-alerts/internal/version"
)

// configPathEnv names the variable holding the YAML config path.
const configPathEnv = "ALERTING_CONFIG"

func main() {
	if err := run(); err != nil {
		slog.Error("alerting stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv(configPathEnv)
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	slog.Info("starting alerting", "version", version.Version, "commit", version.GitCommit)
	return application.Run(ctx)
}
