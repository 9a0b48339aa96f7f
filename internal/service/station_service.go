// Package service provides the business logic for managing stations and
// their playlist audio files.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/dhowden/tag"

	"github.com/jmylchreest/radiarr/internal/metrics"
	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/observability"
	"github.com/jmylchreest/radiarr/internal/repository"
	"github.com/jmylchreest/radiarr/internal/storage"
)

// ErrStationNotFound is returned for operations on an unknown station.
var ErrStationNotFound = errors.New("station not found")

// SessionNotifier reacts to station changes; *session.Manager implements it.
type SessionNotifier interface {
	StationChanged(ctx context.Context, stationID string) error
	StationDeleted(ctx context.Context, stationID string) error
}

// StationService manages stations and playlist files and serves cached
// station lookups to the source handler and the session manager.
type StationService struct {
	stations   repository.StationRepository
	audioFiles repository.AudioFileRepository
	store      storage.Store
	cache      *stationCache
	notifier   SessionNotifier
	logger     *slog.Logger
}

// NewStationService creates a station service whose lookups are cached for ttl.
func NewStationService(
	ctx context.Context,
	stations repository.StationRepository,
	audioFiles repository.AudioFileRepository,
	store storage.Store,
	ttl time.Duration,
) (*StationService, error) {
	cache, err := newStationCache(ctx, ttl)
	if err != nil {
		return nil, err
	}
	return &StationService{
		stations:   stations,
		audioFiles: audioFiles,
		store:      store,
		cache:      cache,
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets the logger for the service.
func (s *StationService) WithLogger(logger *slog.Logger) *StationService {
	s.logger = observability.WithComponent(logger, "stations")
	return s
}

// WithNotifier sets who is told about station changes.
func (s *StationService) WithNotifier(n SessionNotifier) *StationService {
	s.notifier = n
	return s
}

// GetStation returns the station, from cache when possible. Returns nil, nil
// when the station does not exist.
func (s *StationService) GetStation(ctx context.Context, id string) (*models.Station, error) {
	if station, ok := s.cache.get(id); ok {
		metrics.StationCacheLookups.WithLabelValues("hit").Inc()
		return station, nil
	}
	metrics.StationCacheLookups.WithLabelValues("miss").Inc()

	station, err := s.stations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting station: %w", err)
	}
	if station == nil {
		return nil, nil
	}
	if err := s.cache.set(station); err != nil {
		s.logger.Warn("caching station failed", slog.String("station_id", id), slog.String("error", err.Error()))
	}
	return station, nil
}

// Invalidate drops the cached copy of a station.
func (s *StationService) Invalidate(id string) {
	s.cache.delete(id)
}

// CachedStations returns the number of cached stations.
func (s *StationService) CachedStations() int {
	return s.cache.len()
}

// List returns every station.
func (s *StationService) List(ctx context.Context) ([]*models.Station, error) {
	return s.stations.List(ctx)
}

// Create creates a station. An empty id is generated.
func (s *StationService) Create(ctx context.Context, station *models.Station) error {
	if err := s.stations.Create(ctx, station); err != nil {
		return fmt.Errorf("creating station: %w", err)
	}
	s.logger.Info("created station",
		slog.String("station_id", station.ID),
		slog.String("name", station.Name),
		slog.Bool("relay", station.HasRelay()),
	)
	s.notifyChanged(ctx, station.ID)
	return nil
}

// Update saves name, password and relay URL and restarts the background
// session when what it should play changed.
func (s *StationService) Update(ctx context.Context, station *models.Station) error {
	if err := station.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := s.stations.Update(ctx, station); err != nil {
		return fmt.Errorf("updating station: %w", err)
	}
	s.Invalidate(station.ID)
	s.logger.Info("updated station", slog.String("station_id", station.ID))
	s.notifyChanged(ctx, station.ID)
	return nil
}

// Delete stops the station's session, removes its audio files and soft
// deletes the station.
func (s *StationService) Delete(ctx context.Context, id string) error {
	station, err := s.stations.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("getting station: %w", err)
	}
	if station == nil {
		return ErrStationNotFound
	}

	if s.notifier != nil {
		if err := s.notifier.StationDeleted(ctx, id); err != nil {
			return fmt.Errorf("stopping session: %w", err)
		}
	}

	files, err := s.audioFiles.ListByStation(ctx, id)
	if err != nil {
		return fmt.Errorf("listing audio files: %w", err)
	}
	for _, f := range files {
		if err := s.store.Delete(ctx, f.StorageKey); err != nil {
			s.logger.Warn("deleting audio object failed",
				slog.String("storage_key", f.StorageKey), slog.String("error", err.Error()))
		}
	}
	if _, err := s.audioFiles.DeleteByStation(ctx, id); err != nil {
		return fmt.Errorf("deleting audio files: %w", err)
	}
	if err := s.stations.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting station: %w", err)
	}
	s.Invalidate(id)

	s.logger.Info("deleted station", slog.String("station_id", id), slog.Int("audio_files", len(files)))
	return nil
}

// ImportAudio stores one audio file and appends it to the station's
// playlist. Title, artist and album are read from the file's tags, with the
// file name as the fallback title.
func (s *StationService) ImportAudio(ctx context.Context, stationID, filename string, r io.ReadSeeker) (*models.AudioFile, error) {
	station, err := s.stations.GetByID(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("getting station: %w", err)
	}
	if station == nil {
		return nil, ErrStationNotFound
	}

	file := &models.AudioFile{StationID: stationID}
	file.ID = models.NewULID()
	file.Title = strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	file.ContentType = mime.TypeByExtension(strings.ToLower(path.Ext(filename)))

	meta, err := tag.ReadFrom(r)
	switch {
	case err == nil:
		if t := strings.TrimSpace(meta.Title()); t != "" {
			file.Title = t
		}
		file.Artist = strings.TrimSpace(meta.Artist())
		file.Album = strings.TrimSpace(meta.Album())
		if file.ContentType == "" {
			file.ContentType = contentTypeFor(meta.FileType())
		}
	case errors.Is(err, tag.ErrNoTagsFound):
	default:
		s.logger.Debug("reading audio tags failed", slog.String("file", filename), slog.String("error", err.Error()))
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding %s: %w", filename, err)
	}

	file.StorageKey = storage.AudioKey(stationID, file.ID.String(), filename)
	size, err := s.store.Put(ctx, file.StorageKey, r)
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", filename, err)
	}
	file.Size = size

	if err := s.audioFiles.Create(ctx, file); err != nil {
		_ = s.store.Delete(ctx, file.StorageKey)
		return nil, fmt.Errorf("creating audio file: %w", err)
	}

	s.logger.Info("imported audio file",
		slog.String("station_id", stationID),
		slog.String("audio_file_id", file.ID.String()),
		slog.String("title", file.DisplayName()),
		slog.Int64("size", size),
	)
	s.notifyChanged(ctx, stationID)
	return file, nil
}

// DeleteAudio removes one audio file from its station's playlist.
func (s *StationService) DeleteAudio(ctx context.Context, id models.ULID) error {
	file, err := s.audioFiles.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("getting audio file: %w", err)
	}
	if file == nil {
		return storage.ErrNotFound
	}
	if err := s.audioFiles.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting audio file: %w", err)
	}
	if err := s.store.Delete(ctx, file.StorageKey); err != nil {
		return fmt.Errorf("deleting audio object: %w", err)
	}
	s.notifyChanged(ctx, file.StationID)
	return nil
}

// Close releases the cache.
func (s *StationService) Close() error {
	return s.cache.close()
}

func (s *StationService) notifyChanged(ctx context.Context, stationID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.StationChanged(ctx, stationID); err != nil {
		observability.WithError(s.logger, err).Warn("applying station change to session failed",
			slog.String("station_id", stationID))
	}
}

func contentTypeFor(ft tag.FileType) string {
	switch ft {
	case tag.MP3:
		return "audio/mpeg"
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return "audio/mp4"
	case tag.FLAC:
		return "audio/flac"
	case tag.OGG:
		return "audio/ogg"
	case tag.DSF:
		return "audio/dsf"
	default:
		return ""
	}
}
