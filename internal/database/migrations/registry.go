package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/radiarr/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: stations, audio files and media sessions
//   - 002: playlist ordering index
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002PlaylistIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create stations, audio_files and media_sessions",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Station{},
				&models.AudioFile{},
				&models.MediaSession{},
			)
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.MediaSession{},
				&models.AudioFile{},
				&models.Station{},
			)
		},
	}
}

func migration002PlaylistIndex() Migration {
	const name = "idx_audio_files_station_order"
	return Migration{
		Version:     "002",
		Description: "Index audio files by station in playlist order",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.AudioFile{}, name) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + name + " ON audio_files (station_id, id)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.AudioFile{}, name)
		},
	}
}
