package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/repository"
)

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 */1 * * * *", false},
		{"@every 30s", false},
		{"@hourly", false},
		{"not a cron", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseCron(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next, err := ParseCron("@every 30s", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second), next)

	next, err = ParseCron("0 13 * * *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), next)

	_, err = ParseCron("bogus", now)
	assert.Error(t, err)
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add("count", "@every 1s", func(ctx context.Context) {
		assert.NoError(t, ctx.Err())
		runs.Add(1)
	}))
	assert.Error(t, s.Add("bad", "nope", func(context.Context) {}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.NextRun().IsZero())

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add("panics", "@every 1s", func(context.Context) {
		runs.Add(1)
		panic("boom")
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(nil)
	s.Stop()
}

func setupRepos(t *testing.T) (repository.StationRepository, repository.MediaSessionRepository) {
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
	return repository.NewStationRepository(db), repository.NewMediaSessionRepository(db)
}

func TestSweeper_Sweep(t *testing.T) {
	stations, sessions := setupRepos(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"expired1", "healthy1"} {
		require.NoError(t, stations.Create(ctx, &models.Station{ID: id, Name: id, SourcePassword: "pw"}))
	}

	old := now.Add(-5 * time.Minute)
	ok, err := stations.AcquireOwnership(ctx, "expired1", "node-a", "task-1", old, old.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = stations.AcquireOwnership(ctx, "healthy1", "node-b", "task-2", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, sessions.Upsert(ctx, &models.MediaSession{
		StationID: "expired1", Kind: models.SessionKindPlaylist,
		DeploymentID: "node-a", TaskID: "task-1", HealthCheckedAt: old,
	}))
	require.NoError(t, sessions.Upsert(ctx, &models.MediaSession{
		StationID: "healthy1", Kind: models.SessionKindLive,
		DeploymentID: "node-b", TaskID: "task-2", HealthCheckedAt: now,
	}))

	sweeper := NewSweeper(stations, sessions, time.Minute)
	sweeper.now = func() time.Time { return now }

	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{ExpiredLeases: 1, StaleSessions: 1}, result)

	expired, err := stations.GetByID(ctx, "expired1")
	require.NoError(t, err)
	assert.False(t, expired.Owner.Held())
	healthy, err := stations.GetByID(ctx, "healthy1")
	require.NoError(t, err)
	assert.Equal(t, "node-b", healthy.Owner.DeploymentID)

	row, err := sessions.GetByStationID(ctx, "expired1")
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = sessions.GetByStationID(ctx, "healthy1")
	require.NoError(t, err)
	assert.NotNil(t, row)

	result, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result)
}
