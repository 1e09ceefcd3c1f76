// Command server is the entry point for the posts API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postservice/internal/bootstrap"
	"postservice/internal/config"
	"postservice/internal/middleware"
	"postservice/internal/observability"
	"postservice/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	middleware.Logger = middleware.NewLogger(cfg.Env)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "posts-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		middleware.Logger.Error("failed to initialize tracing", slog.String("error", err.Error()))
		return 1
	}

	// The handle starts connecting in the background; requests wait for it.
	handle, rdb, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		middleware.Logger.Error("failed to initialize runtime", slog.String("error", err.Error()))
		return 1
	}

	srv := server.NewServer(cfg, handle, rdb)
	srv.App()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		middleware.Logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-listenErr:
		middleware.Logger.Error("server stopped unexpectedly", slog.Any("error", err))
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		middleware.Logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	if err := handle.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		middleware.Logger.Error("failed to close store connection", slog.String("error", err.Error()))
		exitCode = 1
	} else {
		middleware.Logger.Info("store connection closed")
	}

	if err := shutdownTracing(ctx); err != nil {
		middleware.Logger.Warn("tracing shutdown error", slog.String("error", err.Error()))
	}

	return exitCode
}
