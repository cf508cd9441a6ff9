// Package hub fans radar readings out from source connections to an
// arbitrary set of listener connections.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tanklink/tankbridge/internal/metrics"
)

const closeWriteWait = 5 * time.Second

// Conn is the borrowed transport handle, satisfied by *websocket.Conn.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type source struct {
	conn        Conn
	connectedAt time.Time
}

// SourceStatus is one row of a source snapshot.
type SourceStatus struct {
	SourceID    string    `json:"sourceId"`
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Hub tracks at most one source connection per id and any number of
// listeners. Locks guard pure map mutation only; sends and closes happen
// outside them so a slow consumer never serializes registration or fan-out.
type Hub struct {
	listenersMu sync.Mutex
	listeners   map[Conn]struct{}

	sourcesMu sync.Mutex
	sources   map[string]source

	clock clockwork.Clock
}

func New(clock clockwork.Clock) *Hub {
	return &Hub{
		listeners: make(map[Conn]struct{}),
		sources:   make(map[string]source),
		clock:     clock,
	}
}

// RegisterSource records conn as the single live connection for sourceID,
// closing any previous one with an abnormal closure (takeover).
func (h *Hub) RegisterSource(sourceID string, conn Conn) {
	h.sourcesMu.Lock()
	previous, existed := h.sources[sourceID]
	h.sources[sourceID] = source{conn: conn, connectedAt: h.clock.Now()}
	metrics.HubSources.Set(float64(len(h.sources)))
	h.sourcesMu.Unlock()

	if existed {
		slog.Info("Radar source taken over", "source_id", sourceID)
		h.closeAbnormal(previous.conn)
	}
}

// UnregisterSource removes the mapping only when the stored handle is the
// one being unregistered, so a stale unregister cannot race a newer
// registration out of the map.
func (h *Hub) UnregisterSource(sourceID string, conn Conn) {
	h.sourcesMu.Lock()
	defer h.sourcesMu.Unlock()
	if existing, ok := h.sources[sourceID]; ok && existing.conn == conn {
		delete(h.sources, sourceID)
		metrics.HubSources.Set(float64(len(h.sources)))
	}
}

// RegisterListener adds conn to the listener set.
func (h *Hub) RegisterListener(conn Conn) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners[conn] = struct{}{}
	metrics.HubListeners.Set(float64(len(h.listeners)))
}

// ListenerCount reports how many listeners are currently registered.
func (h *Hub) ListenerCount() int {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	return len(h.listeners)
}

// UnregisterListener removes conn from the listener set.
func (h *Hub) UnregisterListener(conn Conn) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	delete(h.listeners, conn)
	metrics.HubListeners.Set(float64(len(h.listeners)))
}

// Broadcast sends payload to every registered listener. The listener set is
// copied under the lock, the send pass runs without it, and listeners whose
// send fails are removed in one batch afterwards.
func (h *Hub) Broadcast(payload []byte) {
	h.listenersMu.Lock()
	targets := make([]Conn, 0, len(h.listeners))
	for conn := range h.listeners {
		targets = append(targets, conn)
	}
	h.listenersMu.Unlock()

	var stale []Conn
	for _, conn := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	metrics.HubBroadcasts.Inc()

	if len(stale) == 0 {
		return
	}
	h.listenersMu.Lock()
	for _, conn := range stale {
		delete(h.listeners, conn)
	}
	metrics.HubListeners.Set(float64(len(h.listeners)))
	h.listenersMu.Unlock()
	metrics.HubStaleListeners.Add(float64(len(stale)))
	slog.Debug("Removed stale radar listeners", "count", len(stale))
}

// SnapshotSources returns metadata for every connected source.
func (h *Hub) SnapshotSources() []SourceStatus {
	h.sourcesMu.Lock()
	defer h.sourcesMu.Unlock()
	statuses := make([]SourceStatus, 0, len(h.sources))
	for sourceID, src := range h.sources {
		statuses = append(statuses, SourceStatus{
			SourceID:    sourceID,
			Connected:   true,
			ConnectedAt: src.connectedAt,
		})
	}
	return statuses
}

func (h *Hub) closeAbnormal(conn Conn) {
	deadline := h.clock.Now().Add(closeWriteWait)
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}
