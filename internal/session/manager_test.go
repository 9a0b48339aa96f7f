package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/config"
	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/repository"
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// passthrough stands in for ffmpeg.
type passthrough struct{}

func (passthrough) Transcode(_ context.Context, in io.Reader, _ int) (io.ReadCloser, error) {
	return io.NopCloser(in), nil
}

type testEnv struct {
	db       *gorm.DB
	registry *broadcast.Registry
	stations repository.StationRepository
	files    repository.AudioFileRepository
	rows     repository.MediaSessionRepository
	store    *memStore
}

func setupEnv(t *testing.T) *testEnv {
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

	return &testEnv{
		db:       db,
		registry: broadcast.NewRegistry(broadcast.Config{Capacity: 16, BurstLength: 4}),
		stations: repository.NewStationRepository(db),
		files:    repository.NewAudioFileRepository(db),
		rows:     repository.NewMediaSessionRepository(db),
		store:    &memStore{files: map[string][]byte{}},
	}
}

func (e *testEnv) manager(t *testing.T, deployment string) *Manager {
	t.Helper()
	m := NewManager(Options{
		Session: config.SessionConfig{
			DeploymentID:        deployment,
			LeaseTimeout:        time.Minute,
			HealthCheckInterval: 20 * time.Millisecond,
			ReconcileInterval:   time.Hour,
		},
		Relay: config.RelayConfig{
			ChunkSize: 512,
			Bitrate:   4_096_000,
		},
		Registry:   e.registry,
		Stations:   e.stations,
		AudioFiles: e.files,
		Sessions:   e.rows,
		Store:      e.store,
		Transcoder: passthrough{},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func (e *testEnv) station(t *testing.T, id string) *models.Station {
	t.Helper()
	st := &models.Station{ID: id, Name: "Station " + id, SourcePassword: "hackme"}
	require.NoError(t, e.stations.Create(context.Background(), st))
	return st
}

func (e *testEnv) addTrack(t *testing.T, stationID, key string, size int) {
	t.Helper()
	e.store.mu.Lock()
	e.store.files[key] = bytes.Repeat([]byte{0xff}, size)
	e.store.mu.Unlock()
	require.NoError(t, e.files.Create(context.Background(), &models.AudioFile{
		StationID:  stationID,
		StorageKey: key,
		Title:      key,
		Size:       int64(size),
	}))
}

func sessionKind(t *testing.T, m *Manager, stationID string) models.SessionKind {
	t.Helper()
	info, err := m.Get(context.Background(), stationID)
	if err != nil {
		return ""
	}
	return info.Kind
}

func TestManager_StartLive(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "rock")
	ctx := context.Background()

	live, err := m.StartLive(ctx, st, LiveSource{RemoteAddr: "10.0.0.1:5000", ContentType: "audio/ogg"})
	require.NoError(t, err)

	rx, err := env.registry.Subscribe("rock")
	require.NoError(t, err)
	defer rx.Close()
	assert.Equal(t, "audio/ogg", rx.ContentType())

	n, err := live.Send([]byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(got))

	info, err := m.Get(ctx, "rock")
	require.NoError(t, err)
	assert.Equal(t, models.SessionKindLive, info.Kind)
	assert.Equal(t, "node-a", info.DeploymentID)
	assert.Equal(t, "10.0.0.1:5000", info.SourceAddr)
	assert.Equal(t, 1, info.Listeners)
	assert.True(t, info.Local)

	found, err := env.stations.GetByID(ctx, "rock")
	require.NoError(t, err)
	assert.Equal(t, "node-a", found.Owner.DeploymentID)
	assert.Equal(t, live.TaskID(), found.Owner.TaskID)

	live.Close()

	_, err = rx.Recv(ctx)
	assert.ErrorIs(t, err, broadcast.ErrClosed)
	assert.False(t, env.registry.Active("rock"))

	row, err := env.rows.GetByStationID(ctx, "rock")
	require.NoError(t, err)
	assert.Nil(t, row)
	found, err = env.stations.GetByID(ctx, "rock")
	require.NoError(t, err)
	assert.False(t, found.Owner.Held())
	assert.Equal(t, 0, m.Local())
}

func TestManager_SecondLiveSourceRejected(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "rock")
	ctx := context.Background()

	live, err := m.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)
	defer live.Close()

	_, err = m.StartLive(ctx, st, LiveSource{})
	assert.ErrorIs(t, err, ErrLiveStreaming)
}

func TestManager_RestartBlocksOnLive(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "rock")
	env.addTrack(t, "rock", "rock/a.mp3", 1024)
	ctx := context.Background()

	live, err := m.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)
	defer live.Close()

	_, err = m.Restart(ctx, "rock")
	assert.ErrorIs(t, err, ErrLiveStreaming)

	// the live session is untouched
	assert.Equal(t, models.SessionKindLive, sessionKind(t, m, "rock"))
	_, err = live.Send([]byte("still here"))
	assert.NoError(t, err)
}

func TestManager_RestartBlocksOnRemoteLive(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	env.station(t, "rock")
	ctx := context.Background()

	require.NoError(t, env.rows.Upsert(ctx, &models.MediaSession{
		StationID:       "rock",
		Kind:            models.SessionKindLive,
		DeploymentID:    "node-b",
		TaskID:          "task-b",
		HealthCheckedAt: time.Now(),
	}))

	_, err := m.Restart(ctx, "rock")
	assert.ErrorIs(t, err, ErrLiveStreaming)

	info, err := m.Get(ctx, "rock")
	require.NoError(t, err)
	assert.False(t, info.Local)
	assert.Equal(t, "node-b", info.DeploymentID)
}

func TestManager_RestartUnknownStation(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")

	_, err := m.Restart(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrStationNotFound)
}

func TestManager_LeaseHeldByOtherDeployment(t *testing.T) {
	env := setupEnv(t)
	a := env.manager(t, "node-a")
	st := env.station(t, "rock")
	ctx := context.Background()

	live, err := a.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)
	defer live.Close()

	// node-b shares the database but has its own channel registry
	other := setupEnvShared(env)
	b := other.manager(t, "node-b")
	_, err = b.StartLive(ctx, st, LiveSource{})
	assert.ErrorIs(t, err, ErrOwnedElsewhere)
	assert.False(t, other.registry.Active("rock"))
}

func setupEnvShared(e *testEnv) *testEnv {
	shared := *e
	shared.registry = broadcast.NewRegistry(broadcast.Config{})
	return &shared
}

func TestManager_LivePreemptsPlaylistAndResumes(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "jazz")
	env.addTrack(t, "jazz", "jazz/one.mp3", 2048)
	env.addTrack(t, "jazz", "jazz/two.mp3", 2048)
	ctx := context.Background()

	m.Reconcile(ctx)
	require.Eventually(t, func() bool {
		return sessionKind(t, m, "jazz") == models.SessionKindPlaylist
	}, 2*time.Second, 10*time.Millisecond)

	live, err := m.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionKindLive, sessionKind(t, m, "jazz"))

	live.Close()
	require.Eventually(t, func() bool {
		return sessionKind(t, m, "jazz") == models.SessionKindPlaylist
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_PlaylistAdvancesCursor(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	env.station(t, "jazz")
	env.addTrack(t, "jazz", "jazz/one.mp3", 1024)
	ctx := context.Background()

	m.Reconcile(ctx)
	require.Eventually(t, func() bool {
		found, err := env.stations.GetByID(ctx, "jazz")
		return err == nil && !found.PlaylistCursor.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	info, err := m.Get(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, "jazz/one.mp3", info.NowPlaying)
}

func TestManager_PlaylistStopsAfterFullCycleOfFailures(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	env.station(t, "jazz")
	env.addTrack(t, "jazz", "jazz/one.mp3", 1024)
	env.addTrack(t, "jazz", "jazz/two.mp3", 1024)
	env.store.mu.Lock()
	env.store.files = map[string][]byte{}
	env.store.mu.Unlock()
	ctx := context.Background()

	m.Reconcile(ctx)
	require.Eventually(t, func() bool {
		return m.Local() == 0 && !env.registry.Active("jazz")
	}, 2*time.Second, 10*time.Millisecond)

	found, err := env.stations.GetByID(ctx, "jazz")
	require.NoError(t, err)
	assert.False(t, found.Owner.Held())
}

func TestManager_TerminateLiveDoesNotResume(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "jazz")
	env.addTrack(t, "jazz", "jazz/one.mp3", 1024)
	ctx := context.Background()

	live, err := m.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)

	require.NoError(t, m.Terminate(ctx, "jazz"))
	<-live.Done()

	_, err = live.Send([]byte("late"))
	assert.ErrorIs(t, err, broadcast.ErrTerminated)
	live.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, m.Local())
	assert.ErrorIs(t, m.Terminate(ctx, "jazz"), ErrNoSession)
}

func TestManager_OwnershipLossStopsSession(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "rock")
	ctx := context.Background()

	live, err := m.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&models.Station{}).Where("id = ?", "rock").
		UpdateColumns(map[string]any{"owner_deployment_id": "node-b", "owner_task_id": "task-b"}).Error)

	select {
	case <-live.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived ownership loss")
	}

	found, err := env.stations.GetByID(ctx, "rock")
	require.NoError(t, err)
	assert.Equal(t, "node-b", found.Owner.DeploymentID)
}

func TestManager_RelaySession(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/aacp")
		_, _ = w.Write(bytes.Repeat([]byte{0x01}, 1024))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(upstream.Close)

	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := &models.Station{ID: "news", Name: "News", SourcePassword: "p", RelayURL: upstream.URL}
	require.NoError(t, env.stations.Create(context.Background(), st))
	ctx := context.Background()

	m.Reconcile(ctx)

	require.Eventually(t, func() bool {
		stats := env.registry.Stats()
		return len(stats) == 1 && stats[0].ContentType == "audio/aacp" && stats[0].BurstChunks > 0
	}, 2*time.Second, 10*time.Millisecond)

	rx, err := env.registry.Subscribe("news")
	require.NoError(t, err)
	defer rx.Close()
	chunk, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Len(t, chunk, 512)

	close(release)
	require.Eventually(t, func() bool { return m.Local() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestManager_StationChangedSwitchesToRelay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(upstream.Close)

	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "jazz")
	env.addTrack(t, "jazz", "jazz/one.mp3", 2048)
	ctx := context.Background()

	m.Reconcile(ctx)
	require.Eventually(t, func() bool {
		return sessionKind(t, m, "jazz") == models.SessionKindPlaylist
	}, 2*time.Second, 10*time.Millisecond)

	st.RelayURL = upstream.URL
	require.NoError(t, env.stations.Update(ctx, st))
	require.NoError(t, m.StationChanged(ctx, "jazz"))

	info, err := m.Get(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, models.SessionKindExternalRelay, info.Kind)
	assert.Equal(t, upstream.URL, info.RelayURL)
}

func TestManager_ShutdownDrainsLiveSessions(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	rock := env.station(t, "rock")
	env.station(t, "jazz")
	env.addTrack(t, "jazz", "jazz/one.mp3", 2048)
	ctx := context.Background()

	m.Reconcile(ctx)
	require.Eventually(t, func() bool {
		return sessionKind(t, m, "jazz") == models.SessionKindPlaylist
	}, 2*time.Second, 10*time.Millisecond)

	live, err := m.StartLive(ctx, rock, LiveSource{})
	require.NoError(t, err)
	rx, err := env.registry.Subscribe("rock")
	require.NoError(t, err)
	defer rx.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- m.Shutdown(shutdownCtx) }()

	// background sessions stop at once
	require.Eventually(t, func() bool { return !env.registry.Active("jazz") }, 2*time.Second, 10*time.Millisecond)

	// the live session keeps broadcasting while its encoder is connected
	_, err = live.Send([]byte("still on air"))
	require.NoError(t, err)
	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still on air", string(got))
	assert.True(t, env.registry.Active("rock"))

	select {
	case err := <-stopped:
		t.Fatalf("Shutdown returned before the encoder disconnected: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = m.StartLive(ctx, env.station(t, "pop"), LiveSource{})
	assert.ErrorIs(t, err, ErrShuttingDown)

	live.Close()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after the encoder disconnected")
	}

	_, err = rx.Recv(ctx)
	assert.ErrorIs(t, err, broadcast.ErrClosed)
	for _, id := range []string{"rock", "jazz"} {
		found, err := env.stations.GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, found.Owner.Held(), id)
		assert.False(t, env.registry.Active(id), id)
	}
	assert.Equal(t, 0, m.Local())
}

func TestManager_ShutdownTimeoutClosesLiveSessions(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	st := env.station(t, "rock")
	ctx := context.Background()

	live, err := m.StartLive(ctx, st, LiveSource{})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = m.Shutdown(shutdownCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-live.Done():
	default:
		t.Fatal("live session survived the shutdown timeout")
	}
	_, err = live.Send([]byte("late"))
	assert.ErrorIs(t, err, broadcast.ErrClosed)

	found, err := env.stations.GetByID(ctx, "rock")
	require.NoError(t, err)
	assert.False(t, found.Owner.Held())
	assert.False(t, env.registry.Active("rock"))
}

func TestManager_ShutdownDuringReconcile(t *testing.T) {
	env := setupEnv(t)
	m := env.manager(t, "node-a")
	ids := []string{"jazz", "blues", "folk", "soul"}
	for _, id := range ids {
		env.station(t, id)
		env.addTrack(t, id, id+"/one.mp3", 2048)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				m.Reconcile(ctx)
			}
		}()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))
	wg.Wait()

	require.Eventually(t, func() bool { return m.Local() == 0 }, 2*time.Second, 10*time.Millisecond)
	for _, id := range ids {
		assert.False(t, env.registry.Active(id), id)
		found, err := env.stations.GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, found.Owner.Held(), id)
	}
}
