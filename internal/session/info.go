package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmylchreest/radiarr/internal/models"
)

// Info describes a media session for the control plane.
type Info struct {
	StationID    string             `json:"station_id"`
	Kind         models.SessionKind `json:"kind"`
	DeploymentID string             `json:"deployment_id"`
	TaskID       string             `json:"task_id"`
	RelayURL     string             `json:"relay_url,omitempty"`
	ContentType  string             `json:"content_type,omitempty"`
	SourceAddr   string             `json:"source_addr,omitempty"`
	NowPlaying   string             `json:"now_playing,omitempty"`
	// Listeners is only known for sessions of this deployment.
	Listeners       int       `json:"listeners"`
	Local           bool      `json:"local"`
	StartedAt       time.Time `json:"started_at"`
	HealthCheckedAt time.Time `json:"health_checked_at,omitempty"`
}

func (m *Manager) localInfo(s *activeSession) *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Info{
		StationID:    s.stationID,
		Kind:         s.kind,
		DeploymentID: m.deployment,
		TaskID:       s.taskID,
		RelayURL:     s.relayURL,
		ContentType:  s.contentType,
		SourceAddr:   s.sourceAddr,
		NowPlaying:   s.nowPlaying,
		Listeners:    m.registry.Subscribers(s.stationID),
		Local:        true,
		StartedAt:    s.startedAt,
	}
}

func rowInfo(row *models.MediaSession) *Info {
	return &Info{
		StationID:       row.StationID,
		Kind:            row.Kind,
		DeploymentID:    row.DeploymentID,
		TaskID:          row.TaskID,
		RelayURL:        row.RelayURL,
		ContentType:     row.ContentType,
		SourceAddr:      row.SourceAddr,
		NowPlaying:      row.NowPlaying,
		StartedAt:       row.CreatedAt,
		HealthCheckedAt: row.HealthCheckedAt,
	}
}

// Get returns the station's session, whichever deployment runs it.
func (m *Manager) Get(ctx context.Context, stationID string) (*Info, error) {
	if s, ok := m.active.Load(stationID); ok {
		return m.localInfo(s), nil
	}
	row, err := m.rows.GetByStationID(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("loading media session: %w", err)
	}
	if row == nil || row.Stale(m.expiredBefore(m.now().UTC())) {
		return nil, ErrNoSession
	}
	return rowInfo(row), nil
}

// List returns every non-stale session across deployments ordered by
// station id.
func (m *Manager) List(ctx context.Context) ([]*Info, error) {
	rows, err := m.rows.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing media sessions: %w", err)
	}

	expired := m.expiredBefore(m.now().UTC())
	byStation := make(map[string]*Info, len(rows))
	for _, row := range rows {
		if row.Stale(expired) {
			continue
		}
		byStation[row.StationID] = rowInfo(row)
	}
	m.active.Range(func(id string, s *activeSession) bool {
		byStation[id] = m.localInfo(s)
		return true
	})

	infos := make([]*Info, 0, len(byStation))
	for _, info := range byStation {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StationID < infos[j].StationID })
	return infos, nil
}

// Local returns the number of sessions run by this deployment.
func (m *Manager) Local() int {
	return m.active.Size()
}
