package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/observability"
	"github.com/jmylchreest/radiarr/internal/session"
)

// DefaultStreamWriteTimeout drops listeners that stop reading.
const DefaultStreamWriteTimeout = 30 * time.Second

// StreamHandler serves station audio to listeners. Each listener holds the
// registry's drop token for as long as it is subscribed.
type StreamHandler struct {
	registry     *broadcast.Registry
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(registry *broadcast.Registry) *StreamHandler {
	return &StreamHandler{
		registry:     registry,
		writeTimeout: DefaultStreamWriteTimeout,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger.
func (h *StreamHandler) WithLogger(logger *slog.Logger) *StreamHandler {
	h.logger = observability.WithComponent(logger, "listener")
	return h
}

// WithWriteTimeout bounds each chunk write.
func (h *StreamHandler) WithWriteTimeout(d time.Duration) *StreamHandler {
	if d > 0 {
		h.writeTimeout = d
	}
	return h
}

// RegisterChiRoutes registers the stream route as a raw Chi handler, since
// the body is an unbounded audio stream.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{stationId}", h.handleStream)
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "stationId")

	rx, err := h.registry.Subscribe(stationID)
	if err != nil {
		if errors.Is(err, broadcast.ErrNotActive) {
			http.Error(w, "station is not actively streaming", http.StatusNotFound)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer rx.Close()

	contentType := rx.ContentType()
	if contentType == "" {
		contentType = session.DefaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	logger := observability.WithStation(h.logger, stationID).With(slog.String("remote_addr", r.RemoteAddr))
	logger.Debug("listener connected", slog.String("content_type", contentType))

	ctx := r.Context()
	var sent int64
	for {
		chunk, err := rx.Recv(ctx)
		if err != nil {
			var lagged *broadcast.LaggedError
			if errors.As(err, &lagged) {
				logger.Debug("listener lagged", slog.Uint64("skipped_chunks", lagged.N))
				continue
			}
			if errors.Is(err, broadcast.ErrClosed) {
				logger.Debug("stream ended", slog.Int64("bytes", sent))
			}
			return
		}

		_ = rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		n, err := w.Write(chunk)
		sent += int64(n)
		if err != nil {
			logger.Debug("listener disconnected", slog.Int64("bytes", sent))
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
