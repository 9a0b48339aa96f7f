package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_Monotonic(t *testing.T) {
	prev := NewULID()
	for range 1000 {
		next := NewULID()
		require.Less(t, prev.String(), next.String(), "ULIDs must sort in creation order")
		prev = next
	}
}

func TestULID_ZeroIsNull(t *testing.T) {
	var id ULID
	assert.True(t, id.IsZero())

	v, err := id.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsZero())
}

func TestULID_Scan(t *testing.T) {
	want := NewULID()

	var fromString ULID
	require.NoError(t, fromString.Scan(want.String()))
	assert.Equal(t, want, fromString)

	var fromBytes ULID
	require.NoError(t, fromBytes.Scan([]byte(want.String())))
	assert.Equal(t, want, fromBytes)

	var bad ULID
	assert.Error(t, bad.Scan("not-a-ulid"))
	assert.Error(t, bad.Scan(42))
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	m := &BaseModel{}
	require.NoError(t, m.BeforeCreate(nil))
	assert.False(t, m.ID.IsZero())

	existing := NewULID()
	m = &BaseModel{ID: existing}
	require.NoError(t, m.BeforeCreate(nil))
	assert.Equal(t, existing, m.ID)
}

func TestULID_JSON(t *testing.T) {
	type doc struct {
		Cursor ULID `json:"cursor"`
	}
	id := NewULID()

	data, err := json.Marshal(doc{Cursor: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":"`+id.String()+`"}`, string(data))

	var got doc
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, id, got.Cursor)

	data, err = json.Marshal(doc{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":null}`, string(data))

	for _, in := range []string{`{"cursor":null}`, `{"cursor":""}`} {
		got = doc{Cursor: id}
		require.NoError(t, json.Unmarshal([]byte(in), &got))
		assert.True(t, got.Cursor.IsZero(), in)
	}
	assert.Error(t, json.Unmarshal([]byte(`{"cursor":"bogus"}`), &got))
}
