package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var logLevel = new(slog.LevelVar)

func main() {
	logLevel.Set(slog.LevelWarn)

	// Setup structured logging; stdout carries command output
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
