package handlers

import (
	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/session"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string           `json:"status" doc:"healthy or degraded"`
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	DeploymentID  string           `json:"deployment_id,omitempty"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	CPUInfo       CPUInfo          `json:"cpu_info"`
	Memory        MemoryInfo       `json:"memory"`
	Components    HealthComponents `json:"components"`
}

// CPUInfo contains load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo contains system and process memory in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	TranscoderCount   int     `json:"transcoder_count"`
	TranscodersMB     float64 `json:"transcoders_mb"`
}

// HealthComponents reports per component health.
type HealthComponents struct {
	Database  DatabaseHealth  `json:"database"`
	Broadcast BroadcastHealth `json:"broadcast"`
}

// DatabaseHealth reports database reachability and pool usage.
type DatabaseHealth struct {
	Status             string  `json:"status"`
	ResponseTimeMS     float64 `json:"response_time_ms"`
	MaxOpenConnections int     `json:"max_open_connections"`
	InUseConnections   int     `json:"in_use_connections"`
	IdleConnections    int     `json:"idle_connections"`
}

// BroadcastHealth reports broadcast activity on this deployment.
type BroadcastHealth struct {
	ActiveChannels int `json:"active_channels"`
	LocalSessions  int `json:"local_sessions"`
}

// StationIDInput selects a station by path.
type StationIDInput struct {
	StationID string `path:"stationId" maxLength:"20" doc:"Station id"`
}

// ListSessionsOutput is the response of GET /api/v1/sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []*session.Info `json:"sessions"`
	}
}

// SessionOutput wraps one session.
type SessionOutput struct {
	Body *session.Info
}

// RestartOutput is the response of a restart. Session is absent when the
// station has nothing to play.
type RestartOutput struct {
	Body struct {
		Started bool          `json:"started"`
		Session *session.Info `json:"session,omitempty"`
	}
}

// NoContentOutput is an empty 204 response.
type NoContentOutput struct{}

// ListChannelsOutput is the response of GET /api/v1/channels.
type ListChannelsOutput struct {
	Body struct {
		Channels []broadcast.ChannelStats `json:"channels"`
	}
}
