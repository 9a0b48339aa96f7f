package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/radiarr/internal/models"
)

func TestStationRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	ctx := context.Background()

	station := &models.Station{Name: "Jazz", SourcePassword: "hackme"}
	require.NoError(t, repo.Create(ctx, station))
	assert.Len(t, station.ID, models.StationIDLength)

	found, err := repo.GetByID(ctx, station.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Jazz", found.Name)
	assert.Equal(t, "hackme", found.SourcePassword)
	assert.False(t, found.Owner.Held())

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStationRepo_CreateValidation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)

	err := repo.Create(context.Background(), &models.Station{ID: "a/b", Name: "x", SourcePassword: "p"})
	assert.ErrorIs(t, err, models.ErrInvalidStationID)
}

func TestStationRepo_UpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	ctx := context.Background()

	station := createTestStation(t, db, "jazz")
	station.RelayURL = "http://upstream.example.com/live"
	station.SourcePassword = "changed"
	require.NoError(t, repo.Update(ctx, station))

	found, err := repo.GetByID(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, "http://upstream.example.com/live", found.RelayURL)
	assert.Equal(t, "changed", found.SourcePassword)

	require.NoError(t, repo.Delete(ctx, "jazz"))
	found, err = repo.GetByID(ctx, "jazz")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStationRepo_LeaseExpiryHandoff(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	ctx := context.Background()
	createTestStation(t, db, "jazz")

	const timeout = time.Minute
	start := time.Now()

	ok, err := repo.AcquireOwnership(ctx, "jazz", "node-a", "task-a", start, start.Add(-timeout))
	require.NoError(t, err)
	require.True(t, ok, "absent lease must be acquirable")

	// fresh lease: another deployment fails
	later := start.Add(10 * time.Second)
	ok, err = repo.AcquireOwnership(ctx, "jazz", "node-b", "task-b", later, later.Add(-timeout))
	require.NoError(t, err)
	assert.False(t, ok, "fresh lease must not be taken over")

	// same holder may re-acquire
	ok, err = repo.AcquireOwnership(ctx, "jazz", "node-a", "task-a", later, later.Add(-timeout))
	require.NoError(t, err)
	assert.True(t, ok)

	// stale lease: second deployment acquires
	expired := later.Add(timeout + time.Second)
	ok, err = repo.AcquireOwnership(ctx, "jazz", "node-b", "task-b", expired, expired.Add(-timeout))
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be taken over")

	found, err := repo.GetByID(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, "node-b", found.Owner.DeploymentID)
	assert.Equal(t, "task-b", found.Owner.TaskID)

	// the previous holder can no longer refresh
	ok, err = repo.RefreshOwnership(ctx, "jazz", "node-a", "task-a", expired)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStationRepo_ConcurrentAcquire(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	ctx := context.Background()
	createTestStation(t, db, "jazz")

	now := time.Now()
	results := make(chan bool, 8)
	for i := range 8 {
		go func(i int) {
			ok, err := repo.AcquireOwnership(ctx, "jazz", "node", string(rune('a'+i)), now, now.Add(-time.Minute))
			assert.NoError(t, err)
			results <- ok
		}(i)
	}

	winners := 0
	for range 8 {
		if <-results {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestStationRepo_RefreshAndRelease(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	ctx := context.Background()
	createTestStation(t, db, "jazz")

	now := time.Now()
	ok, err := repo.AcquireOwnership(ctx, "jazz", "node-a", "t1", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.RefreshOwnership(ctx, "jazz", "node-a", "t1", now.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RefreshOwnership(ctx, "jazz", "node-a", "other-task", now)
	require.NoError(t, err)
	assert.False(t, ok)

	// release by a non-holder is a no-op
	require.NoError(t, repo.ReleaseOwnership(ctx, "jazz", "node-b", "t1"))
	found, _ := repo.GetByID(ctx, "jazz")
	assert.True(t, found.Owner.Held())

	require.NoError(t, repo.ReleaseOwnership(ctx, "jazz", "node-a", "t1"))
	found, _ = repo.GetByID(ctx, "jazz")
	assert.False(t, found.Owner.Held())
}

func TestStationRepo_ClearExpiredAndReleaseDeployment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	ctx := context.Background()
	for _, id := range []string{"one", "two", "three"} {
		createTestStation(t, db, id)
	}

	now := time.Now()
	old := now.Add(-10 * time.Minute)
	cutoff := now.Add(-time.Minute)

	_, err := repo.AcquireOwnership(ctx, "one", "node-a", "t1", old, old.Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.AcquireOwnership(ctx, "two", "node-a", "t2", now, cutoff)
	require.NoError(t, err)
	_, err = repo.AcquireOwnership(ctx, "three", "node-b", "t3", now, cutoff)
	require.NoError(t, err)

	cleared, err := repo.ClearExpiredOwnership(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	released, err := repo.ReleaseDeployment(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	three, _ := repo.GetByID(ctx, "three")
	assert.Equal(t, "node-b", three.Owner.DeploymentID)
}

func TestStationRepo_ListClaimable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewStationRepository(db)
	files := NewAudioFileRepository(db)
	ctx := context.Background()

	createTestStation(t, db, "empty")
	relay := createTestStation(t, db, "relay")
	relay.RelayURL = "http://upstream.example.com/live"
	require.NoError(t, repo.Update(ctx, relay))
	createTestStation(t, db, "playlist")
	require.NoError(t, files.Create(ctx, &models.AudioFile{StationID: "playlist", StorageKey: "playlist/a.mp3"}))
	createTestStation(t, db, "owned")
	require.NoError(t, files.Create(ctx, &models.AudioFile{StationID: "owned", StorageKey: "owned/a.mp3"}))

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	_, err := repo.AcquireOwnership(ctx, "owned", "node-b", "t", now, cutoff)
	require.NoError(t, err)

	claimable, err := repo.ListClaimable(ctx, cutoff)
	require.NoError(t, err)

	ids := make([]string, 0, len(claimable))
	for _, s := range claimable {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"playlist", "relay"}, ids)
}
