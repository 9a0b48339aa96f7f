package models

import (
	"crypto/rand"
	"net/url"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"
)

const (
	// StationIDLength is the length of generated station ids.
	StationIDLength = 8
	// MaxStationIDLength is the longest id accepted in a source mount path.
	MaxStationIDLength = 20

	stationIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// OwnerDeploymentInfo is the ownership lease a deployment holds over a
// station's audio pipeline. A lease with a HealthCheckedAt older than the
// lease timeout is expired and may be taken over.
type OwnerDeploymentInfo struct {
	DeploymentID    string     `gorm:"size:255;index" json:"deployment_id,omitempty"`
	TaskID          string     `gorm:"size:36" json:"task_id,omitempty"`
	HealthCheckedAt *time.Time `gorm:"index" json:"health_checked_at,omitempty"`
}

// Held reports whether any deployment has claimed the lease.
func (o OwnerDeploymentInfo) Held() bool {
	return o.DeploymentID != "" && o.HealthCheckedAt != nil
}

// Expired reports whether the lease is absent or older than expiredBefore.
func (o OwnerDeploymentInfo) Expired(expiredBefore time.Time) bool {
	return !o.Held() || o.HealthCheckedAt.Before(expiredBefore)
}

// Station is a radio station: a mount point sources push to and listeners
// tune into.
type Station struct {
	ID   string `gorm:"primarykey;size:20" json:"id"`
	Name string `gorm:"not null;size:255" json:"name"`

	// SourcePassword authenticates encoders pushing live audio.
	SourcePassword string `gorm:"not null;size:255" json:"-" masq:"secret"`

	// RelayURL, when set, makes the station pull audio from an external stream
	// whenever no live source is connected.
	RelayURL string `gorm:"size:2048" json:"relay_url,omitempty"`

	// PlaylistCursor is the last audio file that started playing.
	PlaylistCursor ULID `gorm:"type:varchar(26)" json:"playlist_cursor,omitempty"`

	Owner OwnerDeploymentInfo `gorm:"embedded;embeddedPrefix:owner_" json:"owner"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for Station.
func (Station) TableName() string {
	return "stations"
}

// NewStationID generates a random lowercase alphanumeric station id.
func NewStationID() string {
	b := make([]byte, StationIDLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = stationIDAlphabet[int(b[i])%len(stationIDAlphabet)]
	}
	return string(b)
}

// ValidStationID reports whether id can be used as a source mount segment.
func ValidStationID(id string) bool {
	if id == "" || len(id) > MaxStationIDLength {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r) || r > unicode.MaxASCII
	})
}

// Validate performs basic validation on the station.
func (s *Station) Validate() error {
	if !ValidStationID(s.ID) {
		return ErrInvalidStationID
	}
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.SourcePassword == "" {
		return ErrSourcePasswordRequired
	}
	if s.RelayURL != "" {
		u, err := url.Parse(s.RelayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidRelayURL
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that assigns an id and validates.
func (s *Station) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewStationID()
	}
	return s.Validate()
}

// HasRelay reports whether the station pulls from an external relay.
func (s *Station) HasRelay() bool {
	return s.RelayURL != ""
}
