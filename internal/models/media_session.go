package models

import (
	"time"
)

// SessionKind identifies which driver produces a station's audio.
type SessionKind string

const (
	// SessionKindLive is fed by a connected source encoder.
	SessionKindLive SessionKind = "live"
	// SessionKindPlaylist renders the station's uploaded audio files.
	SessionKindPlaylist SessionKind = "playlist"
	// SessionKindExternalRelay pulls audio from the station's relay URL.
	SessionKindExternalRelay SessionKind = "external_relay"
)

// Valid reports whether k is a known session kind.
func (k SessionKind) Valid() bool {
	switch k {
	case SessionKindLive, SessionKindPlaylist, SessionKindExternalRelay:
		return true
	}
	return false
}

// MediaSession records the audio pipeline currently running for a station.
// At most one row exists per station, written only by the lease holder.
type MediaSession struct {
	StationID    string      `gorm:"primarykey;size:20" json:"station_id"`
	Kind         SessionKind `gorm:"not null;size:20" json:"kind"`
	DeploymentID string      `gorm:"not null;size:255;index" json:"deployment_id"`
	TaskID       string      `gorm:"not null;size:36" json:"task_id"`

	// LastAudioFileID is the playlist track currently playing.
	LastAudioFileID ULID `gorm:"type:varchar(26)" json:"last_audio_file_id,omitempty"`

	RelayURL    string `gorm:"size:2048" json:"relay_url,omitempty"`
	ContentType string `gorm:"size:100" json:"content_type,omitempty"`
	SourceAddr  string `gorm:"size:255" json:"source_addr,omitempty"`
	NowPlaying  string `gorm:"size:1000" json:"now_playing,omitempty"`

	HealthCheckedAt time.Time `gorm:"not null;index" json:"health_checked_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the table name for MediaSession.
func (MediaSession) TableName() string {
	return "media_sessions"
}

// Validate performs basic validation on the session.
func (s *MediaSession) Validate() error {
	if s.StationID == "" {
		return ErrStationIDRequired
	}
	if !s.Kind.Valid() {
		return ErrInvalidSessionKind
	}
	if s.TaskID == "" {
		return ErrTaskIDRequired
	}
	return nil
}

// IsLive reports whether the session is fed by a source encoder.
func (s *MediaSession) IsLive() bool {
	return s.Kind == SessionKindLive
}

// Stale reports whether the session has not been health-checked since before.
func (s *MediaSession) Stale(before time.Time) bool {
	return s.HealthCheckedAt.Before(before)
}
