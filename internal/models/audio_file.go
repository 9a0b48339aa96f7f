package models

import "gorm.io/gorm"

// AudioFile is one track in a station's playlist. Playlist order is upload
// order, which is the order of the ULID primary keys.
type AudioFile struct {
	BaseModel

	StationID string `gorm:"not null;size:20;index" json:"station_id"`

	// StorageKey locates the file in the configured storage backend.
	StorageKey string `gorm:"not null;size:1024" json:"storage_key"`

	Title       string `gorm:"size:500" json:"title,omitempty"`
	Artist      string `gorm:"size:500" json:"artist,omitempty"`
	Album       string `gorm:"size:500" json:"album,omitempty"`
	ContentType string `gorm:"size:100" json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// TableName returns the table name for AudioFile.
func (AudioFile) TableName() string {
	return "audio_files"
}

// Validate performs basic validation on the audio file.
func (f *AudioFile) Validate() error {
	if f.StationID == "" {
		return ErrStationIDRequired
	}
	if f.StorageKey == "" {
		return ErrStorageKeyRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates and sets defaults.
func (f *AudioFile) BeforeCreate(tx *gorm.DB) error {
	if err := f.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return f.Validate()
}

// DisplayName returns "Artist - Title", falling back to whichever is set.
func (f *AudioFile) DisplayName() string {
	switch {
	case f.Artist != "" && f.Title != "":
		return f.Artist + " - " + f.Title
	case f.Title != "":
		return f.Title
	case f.Artist != "":
		return f.Artist
	default:
		return f.StorageKey
	}
}
