// Package ingest accepts inbound telemetry from vehicle and radar source
// connections, updates live state, and persists readings to their capped
// streams.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tanklink/tankbridge/internal/domain"
	"github.com/tanklink/tankbridge/internal/metrics"
	"github.com/tanklink/tankbridge/internal/stream"
)

type appender interface {
	Append(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error)
	Reset(ctx context.Context) error
}

type lastSeenUpdater interface {
	UpdateLastSeen(tankID string, payload domain.Payload)
}

type broadcaster interface {
	Broadcast(payload []byte)
}

// Config names the streams telemetry is appended to. Max lengths make the
// streams bounded buffers: old entries are dropped once the cap is exceeded
// rather than growing unbounded.
type Config struct {
	StatusStream string
	StatusMaxLen int64
	RadarStream  string
	RadarMaxLen  int64
}

type Ingest struct {
	registry lastSeenUpdater
	hub      broadcaster
	log      appender
	cfg      Config
	clock    clockwork.Clock
}

func New(registry lastSeenUpdater, hub broadcaster, log appender, cfg Config, clock clockwork.Clock) *Ingest {
	return &Ingest{
		registry: registry,
		hub:      hub,
		log:      log,
		cfg:      cfg,
		clock:    clock,
	}
}

// HandleTank processes one inbound message from a vehicle connection:
// last-seen update plus an append to the status stream.
func (i *Ingest) HandleTank(ctx context.Context, tankID, raw string) {
	payload, decoded := domain.DecodePayload(raw)
	if !decoded {
		metrics.TelemetryDecodeFallbacks.Inc()
	}
	payload.EnsureKind("telemetry")

	i.registry.UpdateLastSeen(tankID, payload)

	encoded, err := payload.Encode()
	if err != nil {
		slog.Warn("Failed to encode tank telemetry", "tank_id", tankID, "error", err)
		return
	}

	i.append(ctx, i.cfg.StatusStream, map[string]any{
		"tankId":     tankID,
		"payload":    string(encoded),
		"receivedAt": i.timestamp(),
	}, i.cfg.StatusMaxLen)
}

// HandleRadar processes one inbound reading from a radar source: immediate
// fan-out to listeners, with the stream append running as a parallel side
// effect so persistence never delays the latency path.
func (i *Ingest) HandleRadar(ctx context.Context, sourceID, raw string) {
	payload, decoded := domain.DecodePayload(raw)
	if !decoded {
		metrics.TelemetryDecodeFallbacks.Inc()
	}
	payload.EnsureKind("radar")
	receivedAt := i.timestamp()
	payload["sourceId"] = sourceID
	payload["receivedAt"] = receivedAt

	serialized, err := payload.Encode()
	if err != nil {
		slog.Warn("Failed to encode radar reading", "source_id", sourceID, "error", err)
		return
	}

	i.hub.Broadcast(serialized)

	appendCtx := context.WithoutCancel(ctx)
	go i.append(appendCtx, i.cfg.RadarStream, map[string]any{
		"sourceId":   sourceID,
		"payload":    string(serialized),
		"receivedAt": receivedAt,
	}, i.cfg.RadarMaxLen)
}

func (i *Ingest) append(ctx context.Context, streamName string, values map[string]any, maxLen int64) {
	if _, err := i.log.Append(ctx, streamName, values, maxLen); err != nil {
		metrics.TelemetryAppends.WithLabelValues(streamName, "error").Inc()
		if stream.IsConnectionError(err) {
			slog.Warn("Store connection lost while appending telemetry", "stream", streamName, "error", err)
			if resetErr := i.log.Reset(ctx); resetErr != nil {
				slog.Error("Store client reset failed", "error", resetErr)
			}
			return
		}
		slog.Warn("Failed to append telemetry", "stream", streamName, "error", err)
		return
	}
	metrics.TelemetryAppends.WithLabelValues(streamName, "ok").Inc()
}

func (i *Ingest) timestamp() string {
	return i.clock.Now().UTC().Format(time.RFC3339)
}
