package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/webxuker/internal/telemetry"
	"github.com/tjfontaine/webxuker/pkg/webxuker"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cli, err := parseCLI(os.Args[1:])
	if err != nil {
		slog.Error("invalid arguments", slog.String("error", err.Error()))
		os.Exit(2)
	}

	level, err := parseLevel(cli.LogLevel)
	if err != nil {
		slog.Error("invalid arguments", slog.String("error", err.Error()))
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cli.Trace {
		shutdown, err := telemetry.InitTracer("webxuker", version, os.Stderr, logger)
		if err != nil {
			fatal(logger, "failed to initialize tracer", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	opts := []webxuker.Option{
		webxuker.WithLogger(logger),
		webxuker.WithFileConfig(cli.Cfg),
		webxuker.WithDryRun(cli.DryRun),
	}
	if cli.HistoryDB != "" {
		opts = append(opts, webxuker.WithSQLite(cli.HistoryDB))
	}
	if cli.Docker {
		opts = append(opts, webxuker.WithDockerFromEnv())
	}

	svc, err := webxuker.New(opts...)
	if err != nil {
		fatal(logger, "failed to create service", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		fatal(logger, "failed to start service", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-svc.Done():
		if err != nil {
			fatal(logger, "server failed", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
