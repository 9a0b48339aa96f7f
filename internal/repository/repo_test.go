package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/radiarr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Station{}, &models.AudioFile{}, &models.MediaSession{}))
	return db
}

func createTestStation(t *testing.T, db *gorm.DB, id string) *models.Station {
	t.Helper()
	station := &models.Station{ID: id, Name: "Station " + id, SourcePassword: "hackme"}
	require.NoError(t, NewStationRepository(db).Create(context.Background(), station))
	return station
}
