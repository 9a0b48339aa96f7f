package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStationID(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewStationID()
		require.Len(t, id, StationIDLength)
		assert.Regexp(t, `^[a-z0-9]+$`, id)
		assert.True(t, ValidStationID(id))
		seen[id] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestValidStationID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc", true},
		{"jazz-fm", true},
		{"12345678901234567890", true},
		{"", false},
		{"123456789012345678901", false},
		{"a/b", false},
		{"a b", false},
		{"café", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidStationID(tt.id))
		})
	}
}

func TestStation_Validate(t *testing.T) {
	valid := func() *Station {
		return &Station{ID: "jazz", Name: "Jazz", SourcePassword: "hackme"}
	}

	require.NoError(t, valid().Validate())

	s := valid()
	s.Name = ""
	assert.ErrorIs(t, s.Validate(), ErrNameRequired)

	s = valid()
	s.SourcePassword = ""
	assert.ErrorIs(t, s.Validate(), ErrSourcePasswordRequired)

	s = valid()
	s.RelayURL = "ftp://example.com/stream"
	assert.ErrorIs(t, s.Validate(), ErrInvalidRelayURL)

	s = valid()
	s.RelayURL = "http://upstream.example.com:8000/live"
	assert.NoError(t, s.Validate())
	assert.True(t, s.HasRelay())
}

func TestStation_BeforeCreateAssignsID(t *testing.T) {
	s := &Station{Name: "Jazz", SourcePassword: "hackme"}
	require.NoError(t, s.BeforeCreate(nil))
	assert.Len(t, s.ID, StationIDLength)
}

func TestOwnerDeploymentInfo_Expired(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	var none OwnerDeploymentInfo
	assert.False(t, none.Held())
	assert.True(t, none.Expired(cutoff))

	fresh := OwnerDeploymentInfo{DeploymentID: "node-a", TaskID: "t1", HealthCheckedAt: &now}
	assert.True(t, fresh.Held())
	assert.False(t, fresh.Expired(cutoff))

	old := now.Add(-2 * time.Minute)
	stale := OwnerDeploymentInfo{DeploymentID: "node-a", TaskID: "t1", HealthCheckedAt: &old}
	assert.True(t, stale.Expired(cutoff))
}

func TestAudioFile_DisplayName(t *testing.T) {
	assert.Equal(t, "Miles Davis - So What", (&AudioFile{Artist: "Miles Davis", Title: "So What"}).DisplayName())
	assert.Equal(t, "So What", (&AudioFile{Title: "So What"}).DisplayName())
	assert.Equal(t, "a/b.mp3", (&AudioFile{StorageKey: "a/b.mp3"}).DisplayName())
}

func TestMediaSession_Validate(t *testing.T) {
	s := &MediaSession{StationID: "jazz", Kind: SessionKindLive, TaskID: "t1"}
	require.NoError(t, s.Validate())
	assert.True(t, s.IsLive())

	s.Kind = "radio"
	assert.ErrorIs(t, s.Validate(), ErrInvalidSessionKind)

	s = &MediaSession{StationID: "jazz", Kind: SessionKindPlaylist}
	assert.ErrorIs(t, s.Validate(), ErrTaskIDRequired)
}
