package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func chunk(s string) []byte { return []byte(s) }

func asStrings(chunks [][]byte) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = string(c)
	}
	return out
}

func TestBurst_Ordering(t *testing.T) {
	b := NewBurst(4)
	for _, s := range []string{"a", "b", "c"} {
		b.Push(chunk(s))
	}
	assert.Equal(t, []string{"a", "b", "c"}, asStrings(b.Snapshot()))
	assert.Equal(t, 3, b.Len())
}

func TestBurst_Eviction(t *testing.T) {
	b := NewBurst(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.Push(chunk(s))
		assert.LessOrEqual(t, b.Len(), b.Cap())
	}
	assert.Equal(t, []string{"c", "d", "e"}, asStrings(b.Snapshot()))
}

func TestBurst_SnapshotIsIndependent(t *testing.T) {
	b := NewBurst(2)
	b.Push(chunk("a"))
	snap := b.Snapshot()
	b.Push(chunk("b"))
	b.Push(chunk("c"))

	assert.Equal(t, []string{"a"}, asStrings(snap))
	assert.Equal(t, []string{"b", "c"}, asStrings(b.Snapshot()))
}

func TestBurst_MinimumCapacity(t *testing.T) {
	b := NewBurst(0)
	b.Push(chunk("a"))
	b.Push(chunk("b"))
	assert.Equal(t, []string{"b"}, asStrings(b.Snapshot()))
}
