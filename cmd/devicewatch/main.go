// Command devicewatch runs the streaming device state reconciler: it ingests
// the upstream prediction stream, maintains the bounded per-device read model,
// probes upstream health, and serves the reconciled state over HTTP, WebSocket
// and optionally NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360/devicewatch/config"
	"github.com/c360/devicewatch/metric"
	"github.com/c360/devicewatch/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devicewatch: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	registry := metric.NewRegistry()

	reconciler, err := service.New(cfg, registry, logger)
	if err != nil {
		logger.Error("failed to assemble reconciler", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("devicewatch starting",
		"stream_url", cfg.Stream.URL,
		"gateway_listen", cfg.Gateway.Listen,
		"nats_enabled", cfg.NATS.Enabled)

	if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("reconciler exited", "error", err)
		os.Exit(1)
	}
	logger.Info("devicewatch stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
