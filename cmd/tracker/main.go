package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetglass/livemap/internal/config"
	"github.com/fleetglass/livemap/internal/diag"
	"github.com/fleetglass/livemap/internal/track"
	"github.com/fleetglass/livemap/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/tracker.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting tracker",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Build and start the tracking core
	svc := track.NewService(cfg, logger)
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start track service", "error", err)
		os.Exit(1)
	}

	// Serve merged diagnostics
	diagPath := cfg.Diagnostics.Path
	if diagPath == "" {
		diagPath = "/debug/livemap"
	}
	mux := http.NewServeMux()
	mux.Handle(diagPath, diag.Handler(func() any { return svc.Diagnostics() }, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	diagServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Diagnostics.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("starting diagnostics server",
			"port", cfg.Diagnostics.Port,
			"path", diagPath,
		)
		if err := diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("diagnostics server failed", "error", err)
		}
	}()

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := diagServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("diagnostics server shutdown", "error", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("track service shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("tracker stopped cleanly")
}
