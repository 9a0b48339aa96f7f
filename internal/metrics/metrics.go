// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors are process wide; NewRegistry exposes them on a private registry.
var (
	// ChannelsActive counts station channels with a live transmitter. The
	// broadcast registry moves it as channels open and close.
	ChannelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "radiarr_channels_active", Help: "Broadcast channels with an active transmitter"},
	)
	// ListenersActive counts subscribed receivers across all channels.
	ListenersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "radiarr_listeners_active", Help: "Subscribed listeners across all channels"},
	)
	// BroadcastBytes counts audio bytes transmitters accepted.
	BroadcastBytes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radiarr_broadcast_bytes_total", Help: "Audio bytes sent into broadcast channels"},
	)
	// ListenerLagged counts chunks receivers skipped after falling behind.
	ListenerLagged = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radiarr_listener_lagged_total", Help: "Chunks skipped by listeners that fell behind"},
	)
	// SourceConnections counts encoder connections by result: ok, error,
	// protocol_error, empty or overload.
	SourceConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "radiarr_source_connections_total", Help: "Source protocol connections by result"},
		[]string{"result"},
	)
	// MediaSessionsActive counts sessions this deployment drives, by kind.
	MediaSessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "radiarr_media_sessions_active", Help: "Media sessions driven by this deployment"},
		[]string{"kind"},
	)
	// PlaylistTracks counts playlist tracks started.
	PlaylistTracks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "radiarr_playlist_tracks_total", Help: "Playlist tracks started"},
	)
	// StationCacheLookups counts station lookups by cache result: hit or miss.
	StationCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "radiarr_station_cache_lookups_total", Help: "Station lookups by cache result"},
		[]string{"result"},
	)
	// SweepRemoved counts expired leases and stale session rows the sweep
	// cleared, by kind: lease or session.
	SweepRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "radiarr_sweep_removed_total", Help: "Expired leases and stale session rows removed by the sweep"},
		[]string{"kind"},
	)
)

// NewRegistry returns a registry holding every radiarr collector plus the
// Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ChannelsActive,
		ListenersActive,
		BroadcastBytes,
		ListenerLagged,
		SourceConnections,
		MediaSessionsActive,
		PlaylistTracks,
		StationCacheLookups,
		SweepRemoved,
	)
	return reg
}

// Handler serves the metrics held by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
