// Package repository defines data access interfaces for radiarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/radiarr/internal/models"
)

// StationRepository defines operations for station persistence and the
// station ownership lease. Every lease operation is a single conditional
// UPDATE, so concurrent deployments cannot both succeed.
type StationRepository interface {
	// Create creates a new station.
	Create(ctx context.Context, station *models.Station) error
	// GetByID retrieves a station by ID. Returns nil, nil when not found.
	GetByID(ctx context.Context, id string) (*models.Station, error)
	// List retrieves all stations.
	List(ctx context.Context) ([]*models.Station, error)
	// ListClaimable returns stations that have something to play (a relay URL
	// or audio files) and whose lease is absent or older than expiredBefore.
	ListClaimable(ctx context.Context, expiredBefore time.Time) ([]*models.Station, error)
	// Update updates station name, password and relay URL.
	Update(ctx context.Context, station *models.Station) error
	// Delete soft-deletes a station.
	Delete(ctx context.Context, id string) error

	// AcquireOwnership claims the lease when it is absent, expired, or already
	// held by the same deployment and task.
	AcquireOwnership(ctx context.Context, id, deploymentID, taskID string, now, expiredBefore time.Time) (bool, error)
	// RefreshOwnership bumps the lease health timestamp if still held by deploymentID/taskID.
	RefreshOwnership(ctx context.Context, id, deploymentID, taskID string, now time.Time) (bool, error)
	// ReleaseOwnership clears the lease if held by deploymentID/taskID.
	ReleaseOwnership(ctx context.Context, id, deploymentID, taskID string) error
	// ClearExpiredOwnership clears every lease older than expiredBefore.
	ClearExpiredOwnership(ctx context.Context, expiredBefore time.Time) (int64, error)
	// ReleaseDeployment clears every lease held by deploymentID.
	ReleaseDeployment(ctx context.Context, deploymentID string) (int64, error)
}

// AudioFileRepository defines operations for playlist audio files.
type AudioFileRepository interface {
	// Create creates a new audio file.
	Create(ctx context.Context, file *models.AudioFile) error
	// GetByID retrieves an audio file by ID. Returns nil, nil when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.AudioFile, error)
	// ListByStation returns a station's audio files in playlist order.
	ListByStation(ctx context.Context, stationID string) ([]*models.AudioFile, error)
	// NextAfter returns the file following cursor in playlist order, wrapping
	// to the first file. A zero cursor yields the first file. Returns nil, nil
	// when the station has no files.
	NextAfter(ctx context.Context, stationID string, cursor models.ULID) (*models.AudioFile, error)
	// CountByStation returns the number of audio files for a station.
	CountByStation(ctx context.Context, stationID string) (int64, error)
	// Delete hard-deletes an audio file by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteByStation hard-deletes all audio files of a station.
	DeleteByStation(ctx context.Context, stationID string) (int64, error)
}

// MediaSessionRepository defines operations for media session rows.
// Mutations other than Upsert are conditional on the session's task id, so a
// deployment that lost its lease cannot overwrite its successor's row.
type MediaSessionRepository interface {
	// Upsert creates or replaces the session row for a station.
	Upsert(ctx context.Context, session *models.MediaSession) error
	// GetByStationID retrieves a station's session. Returns nil, nil when not found.
	GetByStationID(ctx context.Context, stationID string) (*models.MediaSession, error)
	// List returns all session rows.
	List(ctx context.Context) ([]*models.MediaSession, error)
	// Touch updates the health timestamp of the session owned by taskID.
	Touch(ctx context.Context, stationID, taskID string, now time.Time) (bool, error)
	// Advance records a playlist track boundary on the session and moves the
	// station's playlist cursor in the same transaction.
	Advance(ctx context.Context, stationID, taskID string, fileID models.ULID, nowPlaying string, now time.Time) (bool, error)
	// SetContentType records the stream content type of the session owned by taskID.
	SetContentType(ctx context.Context, stationID, taskID, contentType string) error
	// Delete removes the session row if it is still owned by taskID.
	Delete(ctx context.Context, stationID, taskID string) (bool, error)
	// DeleteStale removes session rows not health-checked since before.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
	// DeleteByDeployment removes all session rows written by deploymentID.
	DeleteByDeployment(ctx context.Context, deploymentID string) (int64, error)
}
