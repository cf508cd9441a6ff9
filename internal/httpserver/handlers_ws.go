package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/tanklink/tankbridge/internal/domain"
	"github.com/tanklink/tankbridge/internal/platform/logging"
)

// handleTankSocket runs the receive loop for one vehicle connection. The
// wait for an inbound message is bounded by the idle timeout: on expiry the
// loop sends a liveness probe and keeps waiting. This is a keepalive, not a
// disconnect signal.
func (s *Server) handleTankSocket(c echo.Context) error {
	tankID := strings.TrimSpace(c.Param("id"))
	if tankID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tank id is required"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // upgrader has already written the error response
	}
	defer conn.Close()

	sc := newSyncConn(conn)
	log := logging.WithTank(tankID)

	if err := s.registry.Register(tankID, sc); err != nil {
		log.Error("Tank registration failed", "error", err)
		return nil
	}
	log.Info("Tank connected")

	ctx := c.Request().Context()
	msgs := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- string(data):
			case <-ctx.Done():
				return
			}
		}
	}()

	idle := s.clock.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case raw := <-msgs:
			s.ingest.HandleTank(ctx, tankID, raw)
			resetTimer(idle, s.cfg.IdleTimeout)

		case <-idle.Chan():
			ping, _ := domain.Payload{
				"type":      "ping",
				"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
			}.Encode()
			if err := sc.WriteMessage(websocket.TextMessage, ping); err != nil {
				log.Info("Tank keepalive failed, closing", "error", err)
				s.registry.Unregister(tankID, sc)
				return nil
			}
			idle.Reset(s.cfg.IdleTimeout)

		case err := <-readErr:
			s.registry.Unregister(tankID, sc)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Tank connection error", "error", err)
			} else {
				log.Info("Tank disconnected")
			}
			return nil

		case <-ctx.Done():
			s.registry.Unregister(tankID, sc)
			return nil
		}
	}
}

// handleRadarSourceSocket runs the receive loop for one radar source. No
// idle timeout: sources are expected to be bursty.
func (s *Server) handleRadarSourceSocket(c echo.Context) error {
	sourceID := strings.TrimSpace(c.Param("id"))
	if sourceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "source id is required"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	sc := newSyncConn(conn)
	log := logging.WithSource(sourceID)

	s.hub.RegisterSource(sourceID, sc)
	// Identity-guarded: if a newer connection took over, this is a no-op.
	defer s.hub.UnregisterSource(sourceID, sc)
	log.Info("Radar source connected")

	ctx := c.Request().Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Radar source connection error", "error", err)
			} else {
				log.Info("Radar source disconnected")
			}
			return nil
		}
		s.ingest.HandleRadar(ctx, sourceID, string(data))
	}
}

// handleRadarListenerSocket registers a listener and drains inbound frames
// until it disconnects; listeners only receive.
func (s *Server) handleRadarListenerSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	sc := newSyncConn(conn)
	s.hub.RegisterListener(sc)
	defer s.hub.UnregisterListener(sc)
	log := logging.WithSource("listener")
	log.Info("Radar listener connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Info("Radar listener disconnected")
			return nil
		}
	}
}

// resetTimer restarts a timer that may have fired concurrently.
func resetTimer(t clockwork.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
	t.Reset(d)
}
