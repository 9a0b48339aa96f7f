package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/jmylchreest/radiarr/internal/models"
)

// audioFileRepository implements AudioFileRepository using GORM.
type audioFileRepository struct {
	db *gorm.DB
}

// NewAudioFileRepository creates a new AudioFileRepository.
func NewAudioFileRepository(db *gorm.DB) AudioFileRepository {
	return &audioFileRepository{db: db}
}

// Create creates a new audio file.
func (r *audioFileRepository) Create(ctx context.Context, file *models.AudioFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

// GetByID retrieves an audio file by ID.
func (r *audioFileRepository) GetByID(ctx context.Context, id models.ULID) (*models.AudioFile, error) {
	var file models.AudioFile
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

// ListByStation returns a station's audio files in playlist order.
func (r *audioFileRepository) ListByStation(ctx context.Context, stationID string) ([]*models.AudioFile, error) {
	var files []*models.AudioFile
	if err := r.db.WithContext(ctx).
		Where("station_id = ?", stationID).
		Order("id ASC").
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// NextAfter returns the next file after cursor, wrapping around.
func (r *audioFileRepository) NextAfter(ctx context.Context, stationID string, cursor models.ULID) (*models.AudioFile, error) {
	var file models.AudioFile
	q := r.db.WithContext(ctx).Where("station_id = ?", stationID)
	if !cursor.IsZero() {
		err := q.Where("id > ?", cursor).Order("id ASC").First(&file).Error
		if err == nil {
			return &file, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	err := r.db.WithContext(ctx).
		Where("station_id = ?", stationID).
		Order("id ASC").
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

// CountByStation returns the number of audio files for a station.
func (r *audioFileRepository) CountByStation(ctx context.Context, stationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AudioFile{}).
		Where("station_id = ?", stationID).
		Count(&count).Error
	return count, err
}

// Delete hard-deletes an audio file by ID.
func (r *audioFileRepository) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Unscoped().Delete(&models.AudioFile{}, "id = ?", id).Error
}

// DeleteByStation hard-deletes all audio files of a station.
func (r *audioFileRepository) DeleteByStation(ctx context.Context, stationID string) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Delete(&models.AudioFile{}, "station_id = ?", stationID)
	return result.RowsAffected, result.Error
}
