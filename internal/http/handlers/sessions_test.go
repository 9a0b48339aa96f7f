package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/session"
)

type fakeSessions struct {
	infos      map[string]*session.Info
	restartErr error
	changed    []string
	terminated []string
}

func (f *fakeSessions) List(context.Context) ([]*session.Info, error) {
	out := make([]*session.Info, 0, len(f.infos))
	for _, info := range f.infos {
		out = append(out, info)
	}
	return out, nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*session.Info, error) {
	if info, ok := f.infos[id]; ok {
		return info, nil
	}
	return nil, session.ErrNoSession
}

func (f *fakeSessions) Restart(_ context.Context, id string) (*session.Info, error) {
	if f.restartErr != nil {
		return nil, f.restartErr
	}
	return f.infos[id], nil
}

func (f *fakeSessions) Terminate(_ context.Context, id string) error {
	if _, ok := f.infos[id]; !ok {
		return session.ErrNoSession
	}
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeSessions) StationChanged(_ context.Context, id string) error {
	f.changed = append(f.changed, id)
	return nil
}

func newSessionAPI(t *testing.T, sessions *fakeSessions, registry *broadcast.Registry) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	NewSessionHandler(sessions, registry).Register(api)
	return api
}

func playlistSessions() *fakeSessions {
	return &fakeSessions{infos: map[string]*session.Info{
		"ab12cd34": {StationID: "ab12cd34", Kind: models.SessionKindPlaylist, DeploymentID: "node-a", Local: true},
	}}
}

func TestSessionHandler_List(t *testing.T) {
	api := newSessionAPI(t, playlistSessions(), broadcast.NewRegistry(broadcast.Config{}))

	resp := api.Get("/api/v1/sessions")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, models.SessionKindPlaylist, body.Sessions[0].Kind)
}

func TestSessionHandler_Get(t *testing.T) {
	api := newSessionAPI(t, playlistSessions(), broadcast.NewRegistry(broadcast.Config{}))

	resp := api.Get("/api/v1/sessions/ab12cd34")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"deployment_id":"node-a"`)

	resp = api.Get("/api/v1/sessions/missing")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSessionHandler_Restart(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		station    string
		wantStatus int
		wantBody   string
	}{
		{"started", nil, "ab12cd34", http.StatusOK, `"started":true`},
		{"nothing to play", nil, "idle0001", http.StatusOK, `"started":false`},
		{"live", session.ErrLiveStreaming, "ab12cd34", http.StatusConflict, "live source"},
		{"owned elsewhere", session.ErrOwnedElsewhere, "ab12cd34", http.StatusConflict, "another deployment"},
		{"unknown station", session.ErrStationNotFound, "missing", http.StatusNotFound, "station not found"},
		{"shutting down", session.ErrShuttingDown, "ab12cd34", http.StatusServiceUnavailable, "shutting down"},
		{"failure", errors.New("db gone"), "ab12cd34", http.StatusInternalServerError, "session request failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := playlistSessions()
			sessions.restartErr = tt.err
			api := newSessionAPI(t, sessions, broadcast.NewRegistry(broadcast.Config{}))

			resp := api.Post("/api/v1/stations/" + tt.station + "/restart")
			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.Contains(t, resp.Body.String(), tt.wantBody)
		})
	}
}

func TestSessionHandler_Terminate(t *testing.T) {
	sessions := playlistSessions()
	api := newSessionAPI(t, sessions, broadcast.NewRegistry(broadcast.Config{}))

	resp := api.Delete("/api/v1/stations/ab12cd34/session")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, []string{"ab12cd34"}, sessions.terminated)

	resp = api.Delete("/api/v1/stations/missing/session")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSessionHandler_Invalidate(t *testing.T) {
	sessions := playlistSessions()
	api := newSessionAPI(t, sessions, broadcast.NewRegistry(broadcast.Config{}))

	resp := api.Post("/api/v1/stations/ab12cd34/invalidate")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, []string{"ab12cd34"}, sessions.changed)
}

func TestSessionHandler_ListChannels(t *testing.T) {
	registry := broadcast.NewRegistry(broadcast.Config{Capacity: 4, BurstLength: 1})
	api := newSessionAPI(t, playlistSessions(), registry)

	var body struct {
		Channels []broadcast.ChannelStats `json:"channels"`
	}
	resp := api.Get("/api/v1/channels")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.NotNil(t, body.Channels)
	assert.Empty(t, body.Channels)

	tx, err := registry.Transmit("ab12cd34")
	require.NoError(t, err)
	defer tx.Close()
	_, err = tx.Send([]byte("abc"))
	require.NoError(t, err)

	resp = api.Get("/api/v1/channels")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	assert.Equal(t, "ab12cd34", body.Channels[0].StationID)
	assert.Equal(t, uint64(3), body.Channels[0].BytesSent)
}
