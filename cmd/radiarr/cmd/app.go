package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/radiarr/internal/config"
	"github.com/jmylchreest/radiarr/internal/database"
	"github.com/jmylchreest/radiarr/internal/repository"
	"github.com/jmylchreest/radiarr/internal/service"
	"github.com/jmylchreest/radiarr/internal/storage"
)

// core is the persistence layer shared by every command that touches stations.
type core struct {
	db         *database.DB
	stations   repository.StationRepository
	audioFiles repository.AudioFileRepository
	sessions   repository.MediaSessionRepository
	store      storage.Store
	service    *service.StationService
}

// openCore connects and migrates the database, then builds the repositories,
// the audio store and the station service.
func openCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	c := &core{
		db:         db,
		stations:   repository.NewStationRepository(db.DB),
		audioFiles: repository.NewAudioFileRepository(db.DB),
		sessions:   repository.NewMediaSessionRepository(db.DB),
		store:      store,
	}

	svc, err := service.NewStationService(ctx, c.stations, c.audioFiles, store, cfg.Cache.StationTTL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing station service: %w", err)
	}
	c.service = svc.WithLogger(logger)
	return c, nil
}

func (c *core) Close() error {
	return errors.Join(c.service.Close(), c.db.Close())
}
