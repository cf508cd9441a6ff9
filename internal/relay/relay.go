// Package relay consumes the command log and forwards entries to live
// vehicle connections.
//
// Delivery is best-effort and idempotent on success: the cursor advances
// past every observed entry exactly once, delivered entries are deleted from
// the log as acknowledgment, and undeliverable entries are left in place for
// the retention trimmer as a forensic trail. The log is an audit trail plus
// a replace-on-reconnect mailbox, never a retry queue.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tanklink/tankbridge/internal/domain"
	"github.com/tanklink/tankbridge/internal/metrics"
	"github.com/tanklink/tankbridge/internal/stream"
)

const (
	connectionLostPause = 500 * time.Millisecond
	errorPause          = time.Second
)

type commandLog interface {
	ReadFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]stream.Entry, error)
	Delete(ctx context.Context, stream, id string) error
	Reset(ctx context.Context) error
}

type forwarder interface {
	Forward(tankID string, payload domain.Payload) error
}

// Relay is the single long-lived consumer of one command stream.
type Relay struct {
	log       commandLog
	registry  forwarder
	stream    string
	cursor    string
	batchSize int64
	block     time.Duration
	clock     clockwork.Clock
}

func New(log commandLog, registry forwarder, streamName, start string, batchSize int64, block time.Duration, clock clockwork.Clock) *Relay {
	return &Relay{
		log:       log,
		registry:  registry,
		stream:    streamName,
		cursor:    start,
		batchSize: batchSize,
		block:     block,
		clock:     clock,
	}
}

// Run blocks until ctx is cancelled, reading entries from the cursor and
// dispatching them in log order.
func (r *Relay) Run(ctx context.Context) {
	slog.Info("Command relay started", "stream", r.stream, "cursor", r.cursor)

	for {
		if ctx.Err() != nil {
			slog.Info("Command relay stopped", "stream", r.stream)
			return
		}

		entries, err := r.log.ReadFrom(ctx, r.stream, r.cursor, r.batchSize, r.block)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Command relay stopped", "stream", r.stream)
				return
			}
			if stream.IsConnectionError(err) {
				slog.Warn("Command relay lost store connection", "error", err)
				metrics.RelayResets.Inc()
				if resetErr := r.log.Reset(ctx); resetErr != nil {
					slog.Error("Store client reset failed", "error", resetErr)
				}
				if !r.pause(ctx, connectionLostPause) {
					return
				}
				continue
			}
			slog.Error("Command relay read failed", "error", err)
			if !r.pause(ctx, errorPause) {
				return
			}
			continue
		}

		for _, entry := range entries {
			// The cursor advances regardless of what follows: a log
			// position is never replayed once observed.
			r.cursor = entry.ID
			r.process(ctx, entry)
		}
	}
}

func (r *Relay) process(ctx context.Context, entry stream.Entry) {
	cmd, err := domain.ParseCommand(entry.Values)
	if err != nil {
		slog.Warn("Discarding invalid command entry", "entry_id", entry.ID, "error", err)
		metrics.RelayEntries.WithLabelValues("invalid").Inc()
		return
	}

	err = r.registry.Forward(cmd.TankID, cmd.ForwardPayload())
	switch {
	case errors.Is(err, domain.ErrTargetUnavailable):
		// Left in the log for retention trimming; operators keep a trail
		// of undeliverable commands.
		slog.Warn("Tank unavailable, command not delivered", "tank_id", cmd.TankID, "entry_id", entry.ID)
		metrics.RelayEntries.WithLabelValues("unavailable").Inc()
	case err != nil:
		slog.Error("Failed to send command", "tank_id", cmd.TankID, "entry_id", entry.ID, "error", err)
		metrics.RelayEntries.WithLabelValues("send_error").Inc()
	default:
		slog.Info("Command dispatched", "tank_id", cmd.TankID, "command", cmd.Command, "entry_id", entry.ID)
		metrics.RelayEntries.WithLabelValues("delivered").Inc()
		if deleteErr := r.log.Delete(ctx, r.stream, entry.ID); deleteErr != nil {
			slog.Warn("Unable to delete delivered entry", "entry_id", entry.ID, "error", deleteErr)
		}
	}
}

// pause waits for d on the relay's clock, returning false if ctx was
// cancelled first.
func (r *Relay) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-r.clock.After(d):
		return true
	case <-ctx.Done():
		slog.Info("Command relay stopped", "stream", r.stream)
		return false
	}
}
