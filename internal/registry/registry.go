// Package registry tracks live vehicle connections.
//
// Each vehicle id owns at most one live connection. A new registration takes
// over from any previous connection under the same id, records survive
// disconnects as tombstones, and records past the stale threshold are pruned
// lazily at the start of every operation.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tanklink/tankbridge/internal/domain"
	"github.com/tanklink/tankbridge/internal/metrics"
)

const closeWriteWait = 5 * time.Second

// Conn is the transport handle the registry borrows. *websocket.Conn
// satisfies it; the transport layer keeps ownership of the handle.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type record struct {
	connectedAt  time.Time
	lastSeen     time.Time
	lastPayload  domain.Payload
	commandsSent int
	conn         Conn // nil while tombstoned
}

// Status is one row of a registry snapshot.
type Status struct {
	TankID       string         `json:"tankId"`
	Connected    bool           `json:"connected"`
	ConnectedAt  time.Time      `json:"connectedAt"`
	LastSeen     time.Time      `json:"lastSeen"`
	CommandsSent int            `json:"commandsSent"`
	LastPayload  domain.Payload `json:"lastPayload,omitempty"`
	StaleSeconds float64        `json:"stale"`
}

// Registry is the authoritative map of vehicle connections. All I/O on
// handles (hello, sends, closes) happens outside the lock so slow transport
// teardown never blocks registry operations.
type Registry struct {
	mu           sync.Mutex
	tanks        map[string]*record
	clock        clockwork.Clock
	staleTimeout time.Duration
}

func New(clock clockwork.Clock, staleTimeout time.Duration) *Registry {
	return &Registry{
		tanks:        make(map[string]*record),
		clock:        clock,
		staleTimeout: staleTimeout,
	}
}

// Register installs conn as the live handle for tankID, sending the hello
// acknowledgment first. Any previous live handle is closed with an abnormal
// closure (takeover). Last payload and commands-sent history survive from a
// previous registration under the same id.
func (r *Registry) Register(tankID string, conn Conn) error {
	r.prune()

	now := r.clock.Now()
	hello, err := domain.Payload{
		"type":       "hello",
		"tankId":     tankID,
		"acceptedAt": now.UTC().Format(time.RFC3339),
	}.Encode()
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return fmt.Errorf("send hello to %s: %w", tankID, err)
	}

	r.mu.Lock()
	previous := r.tanks[tankID]
	rec := &record{
		connectedAt: now,
		lastSeen:    now,
		conn:        conn,
	}
	var replaced Conn
	if previous != nil {
		rec.lastPayload = previous.lastPayload
		rec.commandsSent = previous.commandsSent
		replaced = previous.conn
	}
	r.tanks[tankID] = rec
	r.updateGauges()
	r.mu.Unlock()

	if replaced != nil {
		metrics.RegistryTakeovers.Inc()
		slog.Info("Tank connection taken over", "tank_id", tankID)
		r.closeAbnormal(replaced)
	}
	return nil
}

// Unregister clears the live handle for tankID, leaving a tombstone with the
// last-seen stamped to now. The tombstone is written only when the stored
// handle is the one being unregistered, so the handler of a replaced
// connection cannot race a takeover out of the map. Closing the handle stays
// with the transport layer.
func (r *Registry) Unregister(tankID string, conn Conn) {
	r.prune()

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tanks[tankID]
	if !ok || rec.conn != conn {
		return
	}
	rec.conn = nil
	rec.lastSeen = r.clock.Now()
	r.updateGauges()
}

// UpdateLastSeen stamps the record for tankID and stores the payload if one
// is supplied. Unknown ids are ignored; registration is a separate step.
func (r *Registry) UpdateLastSeen(tankID string, payload domain.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.tanks[tankID]
	if !ok {
		return
	}
	rec.lastSeen = r.clock.Now()
	if payload != nil {
		rec.lastPayload = payload
	}
}

// Forward transmits payload as one message on tankID's live handle. The
// commands-sent counter reflects attempted delivery: it increments before the
// write and sticks even when the transport write fails.
func (r *Registry) Forward(tankID string, payload domain.Payload) error {
	r.prune()

	data, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("encode command payload: %w", err)
	}

	r.mu.Lock()
	rec, ok := r.tanks[tankID]
	if !ok || rec.conn == nil {
		r.mu.Unlock()
		metrics.CommandsForwarded.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: %s", domain.ErrTargetUnavailable, tankID)
	}
	rec.commandsSent++
	conn := rec.conn
	r.mu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		metrics.CommandsForwarded.WithLabelValues("error").Inc()
		return fmt.Errorf("send to %s: %w", tankID, err)
	}
	metrics.CommandsForwarded.WithLabelValues("sent").Inc()
	return nil
}

// Snapshot returns the state of every known record.
func (r *Registry) Snapshot() []Status {
	r.prune()

	now := r.clock.Now()
	r.mu.Lock()
	statuses := make([]Status, 0, len(r.tanks))
	for tankID, rec := range r.tanks {
		statuses = append(statuses, Status{
			TankID:       tankID,
			Connected:    rec.conn != nil,
			ConnectedAt:  rec.connectedAt,
			LastSeen:     rec.lastSeen,
			CommandsSent: rec.commandsSent,
			LastPayload:  rec.lastPayload,
			StaleSeconds: now.Sub(rec.lastSeen).Seconds(),
		})
	}
	r.mu.Unlock()
	return statuses
}

// prune drops every record whose last-seen age exceeds the stale threshold.
// Live handles found on dropped records are closed after the lock is
// released.
func (r *Registry) prune() {
	now := r.clock.Now()
	var toClose []Conn

	r.mu.Lock()
	for tankID, rec := range r.tanks {
		if now.Sub(rec.lastSeen) > r.staleTimeout {
			if rec.conn != nil {
				toClose = append(toClose, rec.conn)
			}
			delete(r.tanks, tankID)
			metrics.RegistryPruned.Inc()
			slog.Info("Pruned stale tank record", "tank_id", tankID)
		}
	}
	r.updateGauges()
	r.mu.Unlock()

	for _, conn := range toClose {
		r.closeAbnormal(conn)
	}
}

// closeAbnormal signals abnormal closure (1011) before closing.
func (r *Registry) closeAbnormal(conn Conn) {
	deadline := r.clock.Now().Add(closeWriteWait)
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}

// updateGauges must be called with the lock held.
func (r *Registry) updateGauges() {
	connected := 0
	for _, rec := range r.tanks {
		if rec.conn != nil {
			connected++
		}
	}
	metrics.RegistryTanks.WithLabelValues("connected").Set(float64(connected))
	metrics.RegistryTanks.WithLabelValues("tombstone").Set(float64(len(r.tanks) - connected))
}
