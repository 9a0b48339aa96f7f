package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/jmylchreest/radiarr/internal/droptoken"
	"github.com/jmylchreest/radiarr/internal/metrics"
)

// channel is the shared state between one transmitter and its receivers.
// Chunks live in a fixed ring indexed by a monotonically increasing sequence;
// every receiver keeps its own cursor into it.
type channel struct {
	stationID string
	createdAt time.Time

	mu          sync.Mutex
	ring        [][]byte
	head        uint64 // sequence of the next chunk to be sent
	burst       *Burst
	notify      chan struct{}
	closed      bool
	terminated  bool
	subscribers int
	bytesSent   uint64
	contentType string
}

func newChannel(stationID string, capacity, burstLength int) *channel {
	return &channel{
		stationID: stationID,
		createdAt: time.Now(),
		ring:      make([][]byte, capacity),
		burst:     NewBurst(burstLength),
		notify:    make(chan struct{}),
	}
}

// shutdown marks the channel closed and wakes all receivers. Callers hold mu.
func (c *channel) shutdown() bool {
	if c.closed {
		return false
	}
	c.closed = true
	close(c.notify)
	return true
}

// Transmitter is the single writing handle of a channel.
type Transmitter struct {
	ch       *channel
	registry *Registry
	token    *droptoken.Token
	once     sync.Once
}

// StationID returns the station the transmitter broadcasts for.
func (t *Transmitter) StationID() string {
	return t.ch.stationID
}

// SetContentType records the stream content type for new receivers.
func (t *Transmitter) SetContentType(contentType string) {
	t.ch.mu.Lock()
	t.ch.contentType = contentType
	t.ch.mu.Unlock()
}

// Send broadcasts chunk to all receivers and returns how many are subscribed.
// The chunk must not be modified afterwards. Having no receivers is not an error.
func (t *Transmitter) Send(chunk []byte) (int, error) {
	c := t.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return 0, ErrTerminated
	}
	if c.closed {
		return 0, ErrClosed
	}

	// burst first, so a receiver subscribing after this point starts past it
	c.burst.Push(chunk)
	c.ring[c.head%uint64(len(c.ring))] = chunk
	c.head++
	c.bytesSent += uint64(len(chunk))

	close(c.notify)
	c.notify = make(chan struct{})

	metrics.BroadcastBytes.Add(float64(len(chunk)))
	return c.subscribers, nil
}

// Close removes the channel from the registry and wakes all receivers, which
// drain what is retained and then see ErrClosed. Close is idempotent.
func (t *Transmitter) Close() {
	t.once.Do(func() {
		c := t.ch
		c.mu.Lock()
		c.shutdown()
		c.mu.Unlock()

		t.registry.remove(c)
		t.token.Release()
	})
}

// Receiver is a listener's reading handle of a channel. A Receiver is owned
// by one goroutine and is not safe for concurrent use.
type Receiver struct {
	ch      *channel
	pending [][]byte
	cursor  uint64
	token   *droptoken.Token
	once    sync.Once
	closed  bool
}

// StationID returns the station the receiver listens to.
func (r *Receiver) StationID() string {
	return r.ch.stationID
}

// ContentType returns the content type announced by the transmitter.
func (r *Receiver) ContentType() string {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	return r.ch.contentType
}

// Recv returns the next chunk. Burst chunks captured at subscription are
// returned first without blocking, then live chunks in send order.
//
// A *LaggedError means chunks were skipped and the receiver may continue.
// ErrClosed is terminal.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if len(r.pending) > 0 {
		chunk := r.pending[0]
		r.pending[0] = nil
		r.pending = r.pending[1:]
		return chunk, nil
	}

	c := r.ch
	capacity := uint64(len(c.ring))
	for {
		c.mu.Lock()
		if r.cursor < c.head {
			if c.head-r.cursor > capacity {
				oldest := c.head - capacity
				skipped := oldest - r.cursor
				r.cursor = oldest
				c.mu.Unlock()
				metrics.ListenerLagged.Add(float64(skipped))
				return nil, &LaggedError{N: skipped}
			}
			chunk := c.ring[r.cursor%capacity]
			r.cursor++
			c.mu.Unlock()
			return chunk, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close unsubscribes the receiver. Close is idempotent.
func (r *Receiver) Close() {
	r.once.Do(func() {
		r.closed = true
		r.pending = nil

		c := r.ch
		c.mu.Lock()
		c.subscribers--
		c.mu.Unlock()

		metrics.ListenersActive.Dec()
		r.token.Release()
	})
}

func (c *channel) subscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribers
}
