// Package retention trims aged entries from the command and status streams.
// This is orthogonal to the relay's per-entry acknowledgment deletes: it is
// what eventually reclaims invalid and undeliverable entries.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tanklink/tankbridge/internal/stream"
)

type trimLog interface {
	TrimOlderThan(ctx context.Context, stream string, age time.Duration) (int64, error)
	Reset(ctx context.Context) error
}

type Trimmer struct {
	log      trimLog
	streams  []string
	age      time.Duration
	interval time.Duration
	clock    clockwork.Clock
}

func New(log trimLog, streams []string, age, interval time.Duration, clock clockwork.Clock) *Trimmer {
	return &Trimmer{
		log:      log,
		streams:  streams,
		age:      age,
		interval: interval,
		clock:    clock,
	}
}

// RunOnce trims every configured stream, returning trimmed counts per
// stream. Failures are logged and reported as zero; a trim pass never fails
// as a whole.
func (t *Trimmer) RunOnce(ctx context.Context) map[string]int64 {
	report := make(map[string]int64, len(t.streams))
	for _, name := range t.streams {
		trimmed, err := t.log.TrimOlderThan(ctx, name, t.age)
		if err != nil {
			if stream.IsConnectionError(err) {
				slog.Warn("Store connection lost while trimming", "stream", name, "error", err)
				if resetErr := t.log.Reset(ctx); resetErr != nil {
					slog.Error("Store client reset failed", "error", resetErr)
				}
			} else {
				slog.Warn("Failed to trim stream", "stream", name, "error", err)
			}
			report[name] = 0
			continue
		}
		report[name] = trimmed
	}
	slog.Info("Retention pass completed", "report", report, "age", t.age)
	return report
}

// Run performs an immediate pass, then one per interval until ctx is
// cancelled.
func (t *Trimmer) Run(ctx context.Context) {
	t.RunOnce(ctx)

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			t.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("Retention loop stopped")
			return
		}
	}
}
