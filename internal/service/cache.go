package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/jmylchreest/radiarr/internal/models"
)

// stationCache keeps recently looked-up stations in memory. Entries are
// serialized, so callers always receive their own copy.
type stationCache struct {
	cache *bigcache.BigCache
}

// cachedStation carries every station field, including the source password
// the JSON form of models.Station omits.
type cachedStation struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name"`
	SourcePassword string                     `json:"source_password"`
	RelayURL       string                     `json:"relay_url"`
	PlaylistCursor models.ULID                `json:"playlist_cursor"`
	Owner          models.OwnerDeploymentInfo `json:"owner"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

func newStationCache(ctx context.Context, ttl time.Duration) (*stationCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = ttl
	cfg.Verbose = false
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating station cache: %w", err)
	}
	return &stationCache{cache: cache}, nil
}

func (c *stationCache) get(id string) (*models.Station, bool) {
	data, err := c.cache.Get(id)
	if err != nil {
		return nil, false
	}
	var cs cachedStation
	if err := json.Unmarshal(data, &cs); err != nil {
		_ = c.cache.Delete(id)
		return nil, false
	}
	return &models.Station{
		ID:             cs.ID,
		Name:           cs.Name,
		SourcePassword: cs.SourcePassword,
		RelayURL:       cs.RelayURL,
		PlaylistCursor: cs.PlaylistCursor,
		Owner:          cs.Owner,
		CreatedAt:      cs.CreatedAt,
		UpdatedAt:      cs.UpdatedAt,
	}, true
}

func (c *stationCache) set(station *models.Station) error {
	data, err := json.Marshal(cachedStation{
		ID:             station.ID,
		Name:           station.Name,
		SourcePassword: station.SourcePassword,
		RelayURL:       station.RelayURL,
		PlaylistCursor: station.PlaylistCursor,
		Owner:          station.Owner,
		CreatedAt:      station.CreatedAt,
		UpdatedAt:      station.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.cache.Set(station.ID, data)
}

func (c *stationCache) delete(id string) {
	_ = c.cache.Delete(id)
}

func (c *stationCache) len() int {
	return c.cache.Len()
}

func (c *stationCache) close() error {
	return c.cache.Close()
}
