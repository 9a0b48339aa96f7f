package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/radiarr/internal/models"
)

// mediaSessionRepository implements MediaSessionRepository using GORM.
type mediaSessionRepository struct {
	db *gorm.DB
}

// NewMediaSessionRepository creates a new MediaSessionRepository.
func NewMediaSessionRepository(db *gorm.DB) MediaSessionRepository {
	return &mediaSessionRepository{db: db}
}

// Upsert creates or replaces the session row for a station.
func (r *mediaSessionRepository) Upsert(ctx context.Context, session *models.MediaSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validating media session: %w", err)
	}
	if session.HealthCheckedAt.IsZero() {
		session.HealthCheckedAt = time.Now()
	}
	session.HealthCheckedAt = session.HealthCheckedAt.UTC()

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "station_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "deployment_id", "task_id",
			"last_audio_file_id", "relay_url", "content_type",
			"source_addr", "now_playing", "health_checked_at",
			"created_at", "updated_at",
		}),
	}).Create(session).Error
}

// GetByStationID retrieves a station's session.
func (r *mediaSessionRepository) GetByStationID(ctx context.Context, stationID string) (*models.MediaSession, error) {
	var session models.MediaSession
	if err := r.db.WithContext(ctx).First(&session, "station_id = ?", stationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// List returns all session rows.
func (r *mediaSessionRepository) List(ctx context.Context) ([]*models.MediaSession, error) {
	var sessions []*models.MediaSession
	if err := r.db.WithContext(ctx).Order("station_id ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// Touch updates the health timestamp of the session owned by taskID.
func (r *mediaSessionRepository) Touch(ctx context.Context, stationID, taskID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MediaSession{}).
		Where("station_id = ? AND task_id = ?", stationID, taskID).
		UpdateColumn("health_checked_at", now.UTC())
	return result.RowsAffected == 1, result.Error
}

// Advance records a track boundary and moves the station playlist cursor.
func (r *mediaSessionRepository) Advance(ctx context.Context, stationID, taskID string, fileID models.ULID, nowPlaying string, now time.Time) (bool, error) {
	var owned bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.MediaSession{}).
			Where("station_id = ? AND task_id = ?", stationID, taskID).
			UpdateColumns(map[string]any{
				"last_audio_file_id": fileID,
				"now_playing":        nowPlaying,
				"health_checked_at":  now.UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		owned = true
		return tx.Model(&models.Station{}).
			Where("id = ?", stationID).
			UpdateColumn("playlist_cursor", fileID).Error
	})
	if err != nil {
		return false, fmt.Errorf("advancing playlist of %s: %w", stationID, err)
	}
	return owned, nil
}

// SetContentType records the stream content type.
func (r *mediaSessionRepository) SetContentType(ctx context.Context, stationID, taskID, contentType string) error {
	return r.db.WithContext(ctx).Model(&models.MediaSession{}).
		Where("station_id = ? AND task_id = ?", stationID, taskID).
		UpdateColumn("content_type", contentType).Error
}

// Delete removes the session row if it is still owned by taskID.
func (r *mediaSessionRepository) Delete(ctx context.Context, stationID, taskID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("station_id = ? AND task_id = ?", stationID, taskID).
		Delete(&models.MediaSession{})
	return result.RowsAffected == 1, result.Error
}

// DeleteStale removes session rows not health-checked since before.
func (r *mediaSessionRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("health_checked_at < ?", before.UTC()).
		Delete(&models.MediaSession{})
	return result.RowsAffected, result.Error
}

// DeleteByDeployment removes all session rows written by deploymentID.
func (r *mediaSessionRepository) DeleteByDeployment(ctx context.Context, deploymentID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Delete(&models.MediaSession{})
	return result.RowsAffected, result.Error
}
