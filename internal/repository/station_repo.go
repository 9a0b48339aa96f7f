package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/radiarr/internal/models"
)

// stationRepository implements StationRepository using GORM.
type stationRepository struct {
	db *gorm.DB
}

// NewStationRepository creates a new StationRepository.
func NewStationRepository(db *gorm.DB) StationRepository {
	return &stationRepository{db: db}
}

// Create creates a new station.
func (r *stationRepository) Create(ctx context.Context, station *models.Station) error {
	return r.db.WithContext(ctx).Create(station).Error
}

// GetByID retrieves a station by ID.
func (r *stationRepository) GetByID(ctx context.Context, id string) (*models.Station, error) {
	var station models.Station
	if err := r.db.WithContext(ctx).First(&station, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &station, nil
}

// List retrieves all stations ordered by name.
func (r *stationRepository) List(ctx context.Context) ([]*models.Station, error) {
	var stations []*models.Station
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&stations).Error; err != nil {
		return nil, err
	}
	return stations, nil
}

// ListClaimable returns stations with a relay URL or playlist whose lease can be taken.
func (r *stationRepository) ListClaimable(ctx context.Context, expiredBefore time.Time) ([]*models.Station, error) {
	var stations []*models.Station
	hasFiles := r.db.Model(&models.AudioFile{}).
		Select("1").
		Where("audio_files.station_id = stations.id AND audio_files.deleted_at IS NULL")

	err := r.db.WithContext(ctx).
		Where("(relay_url <> '' OR EXISTS (?))", hasFiles).
		Where(leaseFreeClause, expiredBefore.UTC()).
		Order("id ASC").
		Find(&stations).Error
	if err != nil {
		return nil, err
	}
	return stations, nil
}

// Update updates station name, password and relay URL.
func (r *stationRepository) Update(ctx context.Context, station *models.Station) error {
	if err := station.Validate(); err != nil {
		return fmt.Errorf("validating station: %w", err)
	}
	return r.db.WithContext(ctx).Model(&models.Station{}).
		Where("id = ?", station.ID).
		Updates(map[string]any{
			"name":            station.Name,
			"source_password": station.SourcePassword,
			"relay_url":       station.RelayURL,
		}).Error
}

// Delete soft-deletes a station.
func (r *stationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.Station{}, "id = ?", id).Error
}

// leaseFreeClause matches a station whose lease is absent or expired.
const leaseFreeClause = "(owner_deployment_id IS NULL OR owner_deployment_id = '' " +
	"OR owner_health_checked_at IS NULL OR owner_health_checked_at < ?)"

// AcquireOwnership claims the station lease with a compare-and-set UPDATE.
func (r *stationRepository) AcquireOwnership(ctx context.Context, id, deploymentID, taskID string, now, expiredBefore time.Time) (bool, error) {
	ts := now.UTC()
	result := r.db.WithContext(ctx).Model(&models.Station{}).
		Where("id = ?", id).
		Where(r.db.Where(leaseFreeClause, expiredBefore.UTC()).
			Or("owner_deployment_id = ? AND owner_task_id = ?", deploymentID, taskID)).
		UpdateColumns(map[string]any{
			"owner_deployment_id":     deploymentID,
			"owner_task_id":           taskID,
			"owner_health_checked_at": ts,
		})
	if result.Error != nil {
		return false, fmt.Errorf("acquiring ownership of %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// RefreshOwnership bumps the lease health timestamp.
func (r *stationRepository) RefreshOwnership(ctx context.Context, id, deploymentID, taskID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Station{}).
		Where("id = ? AND owner_deployment_id = ? AND owner_task_id = ?", id, deploymentID, taskID).
		UpdateColumn("owner_health_checked_at", now.UTC())
	if result.Error != nil {
		return false, fmt.Errorf("refreshing ownership of %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

var clearedOwner = map[string]any{
	"owner_deployment_id":     "",
	"owner_task_id":           "",
	"owner_health_checked_at": nil,
}

// ReleaseOwnership clears the lease if it is still ours.
func (r *stationRepository) ReleaseOwnership(ctx context.Context, id, deploymentID, taskID string) error {
	return r.db.WithContext(ctx).Model(&models.Station{}).
		Where("id = ? AND owner_deployment_id = ? AND owner_task_id = ?", id, deploymentID, taskID).
		UpdateColumns(clearedOwner).Error
}

// ClearExpiredOwnership clears leases whose holder stopped refreshing.
func (r *stationRepository) ClearExpiredOwnership(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Station{}).
		Where("owner_health_checked_at IS NOT NULL AND owner_health_checked_at < ?", expiredBefore.UTC()).
		UpdateColumns(clearedOwner)
	return result.RowsAffected, result.Error
}

// ReleaseDeployment clears every lease held by a deployment.
func (r *stationRepository) ReleaseDeployment(ctx context.Context, deploymentID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Station{}).
		Where("owner_deployment_id = ?", deploymentID).
		UpdateColumns(clearedOwner)
	return result.RowsAffected, result.Error
}
