package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamcoop/interventions/internal/config"
	"github.com/liamcoop/interventions/internal/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal("config_load_failed", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config_invalid", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("server_create_failed", "error", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- server.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server_starting", "port", cfg.Port, "simulator", cfg.SimulatorActive)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_failed", "error", err)
		}
	}()

	// Wait for interrupt signal or a worker setup failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	workersStopped := false
	select {
	case <-sigChan:
	case err := <-workersDone:
		workersStopped = true
		if err != nil {
			logger.Error("workers_failed", "error", err)
		}
	}

	logger.Info("server_stopping")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}

	if !workersStopped {
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			logger.Warn("workers_stop_timeout")
		}
	}

	logger.Info("server_stopped")
	if err := logger.Shutdown(shutdownCtx); err != nil {
		os.Exit(1)
	}
}
