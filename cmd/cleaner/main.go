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
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tanklink/tankbridge/internal/platform/config"
	"github.com/tanklink/tankbridge/internal/platform/logging"
	"github.com/tanklink/tankbridge/internal/retention"
	"github.com/tanklink/tankbridge/internal/stream"
)

func main() {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Cleaner starting", "env", cfg.AppEnv, "port", cfg.Port,
		"retention_age", cfg.RetentionAge, "interval", cfg.CleanInterval)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := stream.New(connectCtx, cfg.RedisURL, clock)
	cancelConnect()
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	streams := []string{cfg.StatusStream, cfg.RadarStream, cfg.CommandStream}
	trimmer := retention.New(client, streams, cfg.RetentionAge, cfg.CleanInterval, clock)

	trimCtx, cancelTrim := context.WithCancel(context.Background())
	trimDone := make(chan struct{})
	go func() {
		defer close(trimDone)
		trimmer.Run(trimCtx)
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		if err := client.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/cleanup", func(c echo.Context) error {
		report := trimmer.RunOnce(c.Request().Context())
		return c.JSON(http.StatusOK, map[string]any{"trimmed": report})
	})

	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelTrim()
		<-trimDone

		if err := client.Close(); err != nil {
			slog.Error("Failed to close stream client", "error", err)
		}
		close(done)
	}()

	if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		cancelTrim()
		os.Exit(1)
	}

	<-done
}
