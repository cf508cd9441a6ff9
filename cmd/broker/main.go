package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tanklink/tankbridge/internal/httpserver"
	"github.com/tanklink/tankbridge/internal/hub"
	"github.com/tanklink/tankbridge/internal/ingest"
	"github.com/tanklink/tankbridge/internal/platform/config"
	"github.com/tanklink/tankbridge/internal/platform/logging"
	"github.com/tanklink/tankbridge/internal/registry"
	"github.com/tanklink/tankbridge/internal/relay"
	"github.com/tanklink/tankbridge/internal/stream"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStream(cfg *config.Config, clock clockwork.Clock) *stream.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := stream.New(ctx, cfg.RedisURL, clock)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, cancelRelay context.CancelFunc, relayDone <-chan struct{}, store *stream.Client) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelRelay()
		<-relayDone

		if err := store.Close(); err != nil {
			slog.Error("Failed to close stream client", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Broker starting", "env", cfg.AppEnv, "port", cfg.Port)

	store := setupStream(cfg, clock)

	reg := registry.New(clock, cfg.StaleTimeout)
	h := hub.New(clock)
	ing := ingest.New(reg, h, store, ingest.Config{
		StatusStream: cfg.StatusStream,
		StatusMaxLen: cfg.StatusMaxLen,
		RadarStream:  cfg.RadarStream,
		RadarMaxLen:  cfg.RadarMaxLen,
	}, clock)

	rel := relay.New(store, reg, cfg.CommandStream, cfg.CommandStreamStart, cfg.RelayBatchSize, cfg.RelayBlock, clock)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		rel.Run(relayCtx)
	}()

	srv := httpserver.New(cfg, reg, h, ing, store, clock)
	done := runGracefulShutdown(srv, cancelRelay, relayDone, store)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		cancelRelay()
		os.Exit(1)
	}

	<-done
}
