package main

import (
	"babybottle-monitor/internal/app"
	"babybottle-monitor/internal/config"
	"babybottle-monitor/internal/logging"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"
var appName = "babybottle-monitor"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg, version, appName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	runErr := app.Run(ctx, cfg)
	stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run failed", "err", runErr)
		_ = logCloser.Close()
		os.Exit(1)
	}

	slog.Info("shutting down")
	_ = logCloser.Close()
}
