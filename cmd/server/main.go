package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"credanchor/internal/platform/config"
	"credanchor/internal/platform/logger"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	log.Info("initializing credanchor",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"networks", len(cfg.Networks),
		"min_confirmations", cfg.Credential.MinConfirmations,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	infra, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close(log)

	app, err := buildApp(ctx, cfg, infra, log)
	if err != nil {
		return err
	}

	bgCtx, cancelBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { app.pool.Run(bgCtx) })
	wg.Go(func() { app.storage.Run(bgCtx, cfg.Storage.HealthInterval) })
	wg.Go(func() {
		if err := app.reconciler.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconcile worker stopped", "error", err)
		}
	})
	if infra.redis != nil {
		wg.Go(func() { infra.redis.RunPoolStats(bgCtx, 15*time.Second) })
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Issuance waits up to the confirmation timeout before responding.
		WriteTimeout: cfg.Credential.ConfirmationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			cancelBackground()
			wg.Wait()
			app.Close(context.Background(), log)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	cancelBackground()
	wg.Wait()
	app.Close(shutdownCtx, log)
	return nil
}
