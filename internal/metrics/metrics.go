package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry metrics
var (
	// RegistryTanks tracks known tank records by connection state
	RegistryTanks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_tanks",
			Help: "Known tank records by state (connected/tombstone)",
		},
		[]string{"state"},
	)

	// RegistryTakeovers counts connections closed because a newer one registered under the same id
	RegistryTakeovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_takeovers_total",
			Help: "Tank connections replaced by a newer registration",
		},
	)

	// RegistryPruned counts records dropped by staleness pruning
	RegistryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_pruned_records_total",
			Help: "Tank records dropped after exceeding the stale threshold",
		},
	)

	// CommandsForwarded counts forward attempts by outcome
	CommandsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_forwarded_total",
			Help: "Command forward attempts by outcome (sent/unavailable/error)",
		},
		[]string{"outcome"},
	)
)

// Broadcast hub metrics
var (
	// HubListeners tracks currently registered radar listeners
	HubListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_listeners",
			Help: "Currently registered radar listeners",
		},
	)

	// HubSources tracks currently registered radar sources
	HubSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_sources",
			Help: "Currently registered radar sources",
		},
	)

	// HubBroadcasts counts fan-out passes
	HubBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Radar payload fan-out passes",
		},
	)

	// HubStaleListeners counts listeners removed during broadcast
	HubStaleListeners = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_stale_listeners_total",
			Help: "Listeners removed after a failed or dead send",
		},
	)
)

// Relay metrics
var (
	// RelayEntries counts processed command log entries by outcome
	RelayEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_entries_total",
			Help: "Command log entries processed by outcome (delivered/invalid/unavailable/send_error)",
		},
		[]string{"outcome"},
	)

	// RelayResets counts log store resets triggered by connection loss
	RelayResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_store_resets_total",
			Help: "Log store client resets triggered by the relay loop",
		},
	)
)

// Ingest metrics
var (
	// TelemetryAppends counts log appends by stream and status
	TelemetryAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_appends_total",
			Help: "Telemetry log appends by stream and status",
		},
		[]string{"stream", "status"},
	)

	// TelemetryDecodeFallbacks counts inbound messages wrapped under the raw fallback key
	TelemetryDecodeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_decode_fallbacks_total",
			Help: "Inbound messages that failed structured decoding",
		},
	)
)
