// Package httpserver is the broker's service shell: websocket endpoints for
// vehicles, radar sources and listeners, plus the read-only query surface.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tanklink/tankbridge/internal/hub"
	"github.com/tanklink/tankbridge/internal/ingest"
	"github.com/tanklink/tankbridge/internal/platform/config"
	"github.com/tanklink/tankbridge/internal/platform/correlation"
	"github.com/tanklink/tankbridge/internal/registry"
)

const writeWait = 10 * time.Second

type commandStore interface {
	Append(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error)
	Ping(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	registry  *registry.Registry
	hub       *hub.Hub
	ingest    *ingest.Ingest
	store     commandStore
	clock     clockwork.Clock
	upgrader  websocket.Upgrader
	startTime time.Time
}

func New(cfg *config.Config, reg *registry.Registry, h *hub.Hub, ing *ingest.Ingest, store commandStore, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(correlationMiddleware)

	srv := &Server{
		echo:     e,
		cfg:      cfg,
		registry: reg,
		hub:      h,
		ingest:   ing,
		store:    store,
		clock:    clock,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.cfg.Port)
	if err := s.echo.Start(":" + s.cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// syncConn serializes data writes on a websocket connection. The relay, the
// keepalive timer and broadcast passes may all write to the same handle;
// gorilla permits only one concurrent writer. Control frames are safe
// concurrently and pass straight through.
type syncConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newSyncConn(conn *websocket.Conn) *syncConn {
	return &syncConn{conn: conn}
}

func (c *syncConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *syncConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return c.conn.WriteControl(messageType, data, deadline)
}

func (c *syncConn) Close() error {
	return c.conn.Close()
}
