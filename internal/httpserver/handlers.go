package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tanklink/tankbridge/internal/domain"
	"github.com/tanklink/tankbridge/internal/platform/version"
)

func (s *Server) handleHealth(c echo.Context) error {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(c.Request().Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]any{
		"status":    status,
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"uptime":    s.clock.Now().Sub(s.startTime).Seconds(),
		"version":   version.Version,
	})
}

func (s *Server) handleListTanks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handleListRadars(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.SnapshotSources())
}

// handleEnqueueCommand validates a command and appends it to the command
// stream. Delivery happens asynchronously through the relay; a 202 means
// enqueued, not delivered.
func (s *Server) handleEnqueueCommand(c echo.Context) error {
	var body map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "request body must be a JSON object"})
	}

	cmd, err := domain.ParseCommand(body)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCommand) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return err
	}

	ctx := c.Request().Context()
	commandID := uuid.NewString()

	values := map[string]any{
		"command":    cmd.Command,
		"tankId":     cmd.TankID,
		"commandId":  commandID,
		"enqueuedAt": s.clock.Now().UTC().Format(time.RFC3339),
	}
	if cmd.LeftSpeed != nil {
		values["leftSpeed"] = strconv.Itoa(*cmd.LeftSpeed)
	}
	if cmd.RightSpeed != nil {
		values["rightSpeed"] = strconv.Itoa(*cmd.RightSpeed)
	}
	if cmd.Sequence != nil {
		values["sequence"] = strconv.Itoa(*cmd.Sequence)
	}
	if cmd.Timestamp != "" {
		values["timestamp"] = cmd.Timestamp
	}

	entryID, err := s.store.Append(ctx, s.cfg.CommandStream, values, 0)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue command", "tank_id", cmd.TankID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "command log unavailable"})
	}

	slog.InfoContext(ctx, "Command enqueued", "tank_id", cmd.TankID, "command", cmd.Command, "entry_id", entryID)
	return c.JSON(http.StatusAccepted, map[string]string{
		"id":        entryID,
		"commandId": commandID,
	})
}
