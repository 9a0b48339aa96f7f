package source

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/observability"
	"github.com/jmylchreest/radiarr/internal/session"
)

// Defaults applied to a zero HandlerConfig.
const (
	DefaultChunkSize   = 16 * 1024
	DefaultReadTimeout = 30 * time.Second
)

// StationLookup finds the station an encoder pushes to.
type StationLookup interface {
	// GetStation returns nil, nil when the station does not exist.
	GetStation(ctx context.Context, id string) (*models.Station, error)
}

// LiveStarter starts live sessions; *session.Manager implements it.
type LiveStarter interface {
	StartLive(ctx context.Context, station *models.Station, src session.LiveSource) (*session.LiveSession, error)
}

// HandlerConfig sizes the protocol handler.
type HandlerConfig struct {
	MaxHeadSize int
	ChunkSize   int
	// ReadTimeout bounds reading the head and every gap between body frames.
	ReadTimeout time.Duration
}

// Handler serves one source protocol connection at a time.
type Handler struct {
	cfg      HandlerConfig
	stations StationLookup
	sessions LiveStarter
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig, stations StationLookup, sessions LiveStarter, logger *slog.Logger) *Handler {
	if cfg.MaxHeadSize <= 0 {
		cfg.MaxHeadSize = DefaultMaxHeadSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, stations: stations, sessions: sessions, logger: logger}
}

// ServeConn parses one request from conn and answers it. Protocol errors are
// returned without writing a response; the caller closes conn either way.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return err
	}

	br := bufio.NewReader(conn)
	head, err := ReadHead(br, h.cfg.MaxHeadSize)
	if err != nil {
		return err
	}
	headOnly := head.Method == http.MethodHead

	match := Route(head.Method, head.Path)
	switch match.Kind {
	case RouteStatus:
		return newResponse(http.StatusOK, "OK\n").write(conn, headOnly)
	case RouteMethodNotAllowed:
		resp := textResponse(http.StatusMethodNotAllowed)
		resp.header.Set("Allow", match.Allow)
		return resp.write(conn, headOnly)
	case RouteIngest:
		return h.ingest(ctx, conn, br, head, match.StationID)
	default:
		return textResponse(http.StatusNotFound).write(conn, headOnly)
	}
}

func (h *Handler) ingest(ctx context.Context, conn net.Conn, br *bufio.Reader, head *RequestHead, stationID string) error {
	logger := observability.WithStation(h.logger, stationID).With(
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	station, err := h.stations.GetStation(ctx, stationID)
	if err != nil {
		_ = textResponse(http.StatusInternalServerError).write(conn, false)
		return fmt.Errorf("looking up station %s: %w", stationID, err)
	}
	if station == nil {
		return textResponse(http.StatusNotFound).write(conn, false)
	}

	if !authorized(head.Header, station.SourcePassword) {
		logger.Warn("source authentication failed")
		resp := textResponse(http.StatusUnauthorized)
		// Header.Set would canonicalize this to Www-Authenticate.
		resp.header["WWW-Authenticate"] = []string{`Basic realm="radiarr"`}
		return resp.write(conn, false)
	}

	contentType := head.Header.Get("Content-Type")
	if contentType == "" {
		contentType = session.DefaultContentType
	}
	live, err := h.sessions.StartLive(ctx, station, session.LiveSource{
		RemoteAddr:  conn.RemoteAddr().String(),
		ContentType: contentType,
		UserAgent:   head.Header.Get("User-Agent"),
	})
	switch {
	case errors.Is(err, session.ErrLiveStreaming), errors.Is(err, session.ErrOwnedElsewhere):
		logger.Info("source rejected", slog.String("reason", err.Error()))
		return textResponse(http.StatusConflict).write(conn, false)
	case errors.Is(err, session.ErrShuttingDown):
		return textResponse(http.StatusServiceUnavailable).write(conn, false)
	case err != nil:
		_ = textResponse(http.StatusInternalServerError).write(conn, false)
		return fmt.Errorf("starting live session: %w", err)
	}
	defer live.Close()

	if strings.EqualFold(head.Header.Get("Expect"), "100-continue") {
		if _, err := io.WriteString(conn, "HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
			return err
		}
	}
	if err := newResponse(http.StatusOK, "").write(conn, false); err != nil {
		return err
	}

	logger.Info("source connected",
		slog.String("content_type", contentType),
		slog.String("user_agent", head.Header.Get("User-Agent")),
	)

	// unblock the body read when the server shuts down or the session ends
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	go func() {
		<-live.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	body := io.Reader(br)
	if cl := head.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			body = io.LimitReader(br, n)
		}
	}

	sent, err := h.pumpBody(ctx, conn, body, live)
	attrs := []any{slog.Int64("bytes", sent)}
	switch {
	case err == nil:
		logger.Info("source disconnected", attrs...)
	case errors.Is(err, broadcast.ErrTerminated), errors.Is(err, broadcast.ErrClosed):
		logger.Info("source session ended", attrs...)
	case ctx.Err() != nil:
		logger.Info("source closed for shutdown", attrs...)
	default:
		observability.WithError(logger, err).Info("source read ended", attrs...)
	}
	return nil
}

// pumpBody reads body in chunk-sized frames and sends each to the session.
// Every frame is freshly allocated, since sent chunks are shared.
func (h *Handler) pumpBody(ctx context.Context, conn net.Conn, body io.Reader, live *session.LiveSession) (int64, error) {
	var sent int64
	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return sent, err
		}
		// checked after the deadline reset so a concurrent forced deadline wins
		select {
		case <-live.Done():
			return sent, broadcast.ErrClosed
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		buf := make([]byte, h.cfg.ChunkSize)
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := live.Send(buf[:n]); err != nil {
				return sent, err
			}
			sent += int64(n)
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return sent, nil
		default:
			return sent, rerr
		}
	}
}

// authorized checks Basic credentials or the Ice-Password header against the
// station's source password in constant time. The Basic user name is not
// checked; encoders send "source" by convention.
func authorized(header http.Header, password string) bool {
	if password == "" {
		return false
	}
	var given string
	if auth := header.Get("Authorization"); auth != "" {
		req := http.Request{Header: http.Header{"Authorization": {auth}}}
		_, pass, ok := req.BasicAuth()
		if !ok {
			return false
		}
		given = pass
	} else {
		given = header.Get("Ice-Password")
	}
	if given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(password)) == 1
}
