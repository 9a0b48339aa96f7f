package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/radiarr/internal/models"
)

func TestAudioFileRepo_PlaylistOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAudioFileRepository(db)
	ctx := context.Background()
	createTestStation(t, db, "jazz")

	var ids []models.ULID
	for _, key := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		f := &models.AudioFile{StationID: "jazz", StorageKey: "jazz/" + key}
		require.NoError(t, repo.Create(ctx, f))
		ids = append(ids, f.ID)
	}
	require.NoError(t, repo.Create(ctx, &models.AudioFile{StationID: "other", StorageKey: "other/x.mp3"}))

	files, err := repo.ListByStation(ctx, "jazz")
	require.NoError(t, err)
	require.Len(t, files, 3)
	for i, f := range files {
		assert.Equal(t, ids[i], f.ID)
	}

	count, err := repo.CountByStation(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAudioFileRepo_NextAfterWraps(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAudioFileRepository(db)
	ctx := context.Background()

	none, err := repo.NextAfter(ctx, "jazz", models.ULID{})
	require.NoError(t, err)
	assert.Nil(t, none)

	var ids []models.ULID
	for _, key := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		f := &models.AudioFile{StationID: "jazz", StorageKey: key}
		require.NoError(t, repo.Create(ctx, f))
		ids = append(ids, f.ID)
	}

	first, err := repo.NextAfter(ctx, "jazz", models.ULID{})
	require.NoError(t, err)
	assert.Equal(t, ids[0], first.ID)

	second, err := repo.NextAfter(ctx, "jazz", ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[1], second.ID)

	wrapped, err := repo.NextAfter(ctx, "jazz", ids[2])
	require.NoError(t, err)
	assert.Equal(t, ids[0], wrapped.ID)

	// a deleted cursor still resumes at the following file
	require.NoError(t, repo.Delete(ctx, ids[1]))
	next, err := repo.NextAfter(ctx, "jazz", ids[1])
	require.NoError(t, err)
	assert.Equal(t, ids[2], next.ID)
}

func TestAudioFileRepo_DeleteByStation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAudioFileRepository(db)
	ctx := context.Background()

	for _, key := range []string{"a.mp3", "b.mp3"} {
		require.NoError(t, repo.Create(ctx, &models.AudioFile{StationID: "jazz", StorageKey: key}))
	}

	n, err := repo.DeleteByStation(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := repo.CountByStation(ctx, "jazz")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAudioFileRepo_CreateValidation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAudioFileRepository(db)

	err := repo.Create(context.Background(), &models.AudioFile{StationID: "jazz"})
	assert.ErrorIs(t, err, models.ErrStorageKeyRequired)
}
