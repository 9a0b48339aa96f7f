package broadcast

// Burst keeps the most recent chunks of a stream so a new listener can start
// playback immediately instead of waiting for the next live chunk.
//
// Burst is not safe for concurrent use; the channel guards it with its lock.
type Burst struct {
	chunks [][]byte
	start  int
	size   int
}

// NewBurst creates a burst retaining at most capacity chunks.
func NewBurst(capacity int) *Burst {
	if capacity < 1 {
		capacity = 1
	}
	return &Burst{chunks: make([][]byte, capacity)}
}

// Push appends a chunk, evicting the oldest one when full.
func (b *Burst) Push(chunk []byte) {
	capacity := len(b.chunks)
	if b.size < capacity {
		b.chunks[(b.start+b.size)%capacity] = chunk
		b.size++
		return
	}
	b.chunks[b.start] = chunk
	b.start = (b.start + 1) % capacity
}

// Snapshot returns the retained chunks oldest first. The returned slice is
// independent of the burst; the chunk contents are shared and never mutated.
func (b *Burst) Snapshot() [][]byte {
	out := make([][]byte, b.size)
	for i := range b.size {
		out[i] = b.chunks[(b.start+i)%len(b.chunks)]
	}
	return out
}

// Len returns the number of retained chunks.
func (b *Burst) Len() int {
	return b.size
}

// Cap returns the maximum number of retained chunks.
func (b *Burst) Cap() int {
	return len(b.chunks)
}
