package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pong-server/internal/server"
)

func gracefulShutdown(ctx context.Context, stop context.CancelFunc, customServer *server.Server, httpServer *http.Server) error {
	<-ctx.Done()

	log.Info().Msg("Shutdown signal received, press Ctrl+C again to force")
	stop()

	// Sessions get their final matchEnded out before sockets close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := customServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during custom shutdown")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server forced to shutdown: %w", err)
	}
	return nil
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	server.SetupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	customServer, httpServer, err := server.NewServer(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("Listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return customServer.Run(gctx)
	})

	g.Go(func() error {
		return gracefulShutdown(gctx, stop, customServer, httpServer)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Graceful shutdown complete.")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("Server exited")
		os.Exit(1)
	}
}
