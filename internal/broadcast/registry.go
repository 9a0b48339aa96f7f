// Package broadcast fans one station's audio out to any number of listeners.
//
// A Registry maps station ids to channels. Each channel has exactly one
// Transmitter and any number of Receivers; a bounded ring decouples them so a
// slow listener is told it lagged instead of stalling the transmitter.
package broadcast

import (
	"log/slog"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jmylchreest/radiarr/internal/droptoken"
	"github.com/jmylchreest/radiarr/internal/metrics"
)

// Default channel sizing.
const (
	DefaultCapacity    = 64
	DefaultBurstLength = 8
)

// Config sizes the channels created by a registry.
type Config struct {
	// Capacity is the number of live chunks retained per channel.
	Capacity int
	// BurstLength is the number of chunks replayed to a new receiver.
	BurstLength int
}

// ChannelStats describes one active channel.
type ChannelStats struct {
	StationID   string    `json:"station_id"`
	Subscribers int       `json:"subscribers"`
	ChunksSent  uint64    `json:"chunks_sent"`
	BytesSent   uint64    `json:"bytes_sent"`
	BurstChunks int       `json:"burst_chunks"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Registry is the set of active broadcast channels keyed by station id.
type Registry struct {
	cfg      Config
	channels *xsync.MapOf[string, *channel]
	tokens   *droptoken.Counter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.BurstLength < 1 {
		cfg.BurstLength = DefaultBurstLength
	}
	return &Registry{
		cfg:      cfg,
		channels: xsync.NewMapOf[string, *channel](),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithDropTokens makes every transmitter and receiver hold a token from c
// until closed.
func (r *Registry) WithDropTokens(c *droptoken.Counter) *Registry {
	r.tokens = c
	return r
}

func (r *Registry) acquireToken() *droptoken.Token {
	if r.tokens == nil {
		return nil
	}
	return r.tokens.Acquire()
}

// Transmit creates the channel for stationID and returns its transmitter.
// It fails with ErrAlreadyActive when the station already has one.
func (r *Registry) Transmit(stationID string) (*Transmitter, error) {
	ch := newChannel(stationID, r.cfg.Capacity, r.cfg.BurstLength)
	if _, loaded := r.channels.LoadOrStore(stationID, ch); loaded {
		return nil, ErrAlreadyActive
	}

	metrics.ChannelsActive.Inc()
	r.logger.Debug("channel opened", slog.String("station_id", stationID))
	return &Transmitter{ch: ch, registry: r, token: r.acquireToken()}, nil
}

// Subscribe attaches a receiver to the station's channel. The receiver first
// replays the burst captured at this instant, then follows the live stream.
func (r *Registry) Subscribe(stationID string) (*Receiver, error) {
	ch, ok := r.channels.Load(stationID)
	if !ok {
		return nil, ErrNotActive
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil, ErrNotActive
	}
	rx := &Receiver{
		ch:      ch,
		pending: ch.burst.Snapshot(),
		cursor:  ch.head,
	}
	ch.subscribers++
	ch.mu.Unlock()

	rx.token = r.acquireToken()
	metrics.ListenersActive.Inc()
	return rx, nil
}

// Terminate shuts the station's channel down: receivers see ErrClosed after
// draining and the transmitter's next Send returns ErrTerminated. It reports
// whether a channel existed.
func (r *Registry) Terminate(stationID string) bool {
	ch, ok := r.channels.Load(stationID)
	if !ok {
		return false
	}

	ch.mu.Lock()
	ch.terminated = true
	ch.shutdown()
	ch.mu.Unlock()

	r.remove(ch)
	r.logger.Info("channel terminated", slog.String("station_id", stationID))
	return true
}

// remove deletes ch from the map only if it is still the registered channel
// for its station.
func (r *Registry) remove(ch *channel) {
	removed := false
	r.channels.Compute(ch.stationID, func(old *channel, loaded bool) (*channel, bool) {
		if loaded && old == ch {
			removed = true
			return nil, true
		}
		return old, !loaded
	})
	if removed {
		metrics.ChannelsActive.Dec()
		r.logger.Debug("channel closed", slog.String("station_id", ch.stationID))
	}
}

// Active reports whether the station has a transmitter.
func (r *Registry) Active(stationID string) bool {
	_, ok := r.channels.Load(stationID)
	return ok
}

// Subscribers returns the number of receivers of the station's channel.
func (r *Registry) Subscribers(stationID string) int {
	ch, ok := r.channels.Load(stationID)
	if !ok {
		return 0
	}
	return ch.subscriberCount()
}

// Len returns the number of active channels.
func (r *Registry) Len() int {
	return r.channels.Size()
}

// Stats returns a snapshot of every active channel ordered by station id.
func (r *Registry) Stats() []ChannelStats {
	stats := make([]ChannelStats, 0, r.channels.Size())
	r.channels.Range(func(id string, ch *channel) bool {
		ch.mu.Lock()
		stats = append(stats, ChannelStats{
			StationID:   id,
			Subscribers: ch.subscribers,
			ChunksSent:  ch.head,
			BytesSent:   ch.bytesSent,
			BurstChunks: ch.burst.Len(),
			ContentType: ch.contentType,
			CreatedAt:   ch.createdAt,
		})
		ch.mu.Unlock()
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].StationID < stats[j].StationID })
	return stats
}
