// Command agorad serves the Agora tool surface over HTTP.
//
// Configuration comes from the file named by AGORA_CONFIG (optional) and the
// environment overrides AGORA_INSTANCE_NAME, AGORA_STORE_DRIVER, REDIS_URL and
// AGORA_LISTEN_ADDR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/agora/internal/api"
	"github.com/dyluth/agora/internal/app"
	"github.com/dyluth/agora/internal/config"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, getenv func(string) string) error {
	// 1. Resolve configuration
	cfg, err := config.Resolve(getenv("AGORA_CONFIG"), getenv)
	if err != nil {
		return err
	}

	// 2. Bootstrap logger, tracing, store and service
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Start the HTTP tool surface
	srv := api.NewServer(a.Service, cfg.Server, a.Logger.With("component", "api"))
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	a.Logger.Info("agorad listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)

	// 4. Wait for shutdown
	<-ctx.Done()
	a.Logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
