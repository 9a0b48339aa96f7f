package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/radiarr/internal/droptoken"
	"github.com/jmylchreest/radiarr/internal/metrics"
	"github.com/jmylchreest/radiarr/internal/observability"
)

// ServerConfig configures the source listener.
type ServerConfig struct {
	Addresses      []string
	MaxConnections int
}

// Server accepts encoder connections on every configured address and serves
// each on a bounded worker pool.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	pool    *ants.Pool
	tokens  *droptoken.Counter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners []net.Listener
	closing   atomic.Bool
	conns     *xsync.MapOf[net.Conn, struct{}]
}

// NewServer creates a Server. tokens may be nil.
func NewServer(cfg ServerConfig, handler *Handler, tokens *droptoken.Counter, logger *slog.Logger) (*Server, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("no source addresses configured")
	}
	if cfg.MaxConnections < 1 {
		cfg.MaxConnections = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "source")

	pool, err := ants.NewPool(cfg.MaxConnections,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("source connection panicked", slog.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		pool:    pool,
		tokens:  tokens,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   xsync.NewMapOf[net.Conn, struct{}](),
	}, nil
}

// Listen binds every configured address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, addr := range s.cfg.Addresses {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range s.listeners {
				_ = l.Close()
			}
			s.listeners = nil
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
		s.logger.Info("source listener started", slog.String("address", ln.Addr().String()))
	}
	return nil
}

// Addrs returns the bound addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Serve runs one accept loop per listener until Shutdown or Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.mu.Unlock()
	if len(listeners) == 0 {
		return errors.New("source server is not listening")
	}

	var g errgroup.Group
	for _, ln := range listeners {
		g.Go(func() error { return s.acceptLoop(ln) })
	}
	return g.Wait()
}

// ListenAndServe binds and serves until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown() })
	defer stop()
	return s.Serve()
}

func (s *Server) acceptLoop(ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = backoff(delay)
				s.logger.Warn("source accept failed, retrying",
					slog.String("error", err.Error()), slog.Duration("delay", delay))
				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-s.ctx.Done():
					t.Stop()
					return nil
				}
				continue
			}
			return fmt.Errorf("accepting on %s: %w", ln.Addr(), err)
		}
		delay = 0
		s.dispatch(conn)
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// dispatch hands conn to the worker pool, answering 503 when it is full.
func (s *Server) dispatch(conn net.Conn) {
	var token *droptoken.Token
	if s.tokens != nil {
		token = s.tokens.Acquire()
	}
	s.conns.Store(conn, struct{}{})
	release := func() {
		s.conns.Delete(conn)
		_ = conn.Close()
		token.Release()
	}

	err := s.pool.Submit(func() {
		defer release()
		s.serveConn(conn)
	})
	if err == nil {
		return
	}

	defer release()
	if errors.Is(err, ants.ErrPoolOverload) {
		metrics.SourceConnections.WithLabelValues("overload").Inc()
		s.logger.Warn("source connection rejected, pool full",
			slog.String("remote_addr", conn.RemoteAddr().String()))
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = textResponse(http.StatusServiceUnavailable).write(conn, false)
		return
	}
	s.logger.Error("submitting source connection failed", slog.String("error", err.Error()))
}

func (s *Server) serveConn(conn net.Conn) {
	err := s.handler.ServeConn(s.ctx, conn)
	logger := s.logger.With(slog.String("remote_addr", conn.RemoteAddr().String()))

	switch {
	case err == nil:
		metrics.SourceConnections.WithLabelValues("ok").Inc()
	case errors.Is(err, io.EOF):
		metrics.SourceConnections.WithLabelValues("empty").Inc()
		logger.Debug("source connection closed before request")
	case isProtocolError(err):
		metrics.SourceConnections.WithLabelValues("protocol_error").Inc()
		observability.WithError(logger, err).Warn("source protocol error")
	default:
		metrics.SourceConnections.WithLabelValues("error").Inc()
		observability.WithError(logger, err).Warn("source connection failed")
	}
}

func isProtocolError(err error) bool {
	for _, target := range []error{
		ErrMissingMethod, ErrMissingTarget, ErrMalformedRequestLine,
		ErrInvalidVersion, ErrVersionMismatch, ErrMalformedHeader,
		ErrHeadTooLarge, io.ErrUnexpectedEOF, os.ErrDeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ActiveConnections returns the number of open source connections.
func (s *Server) ActiveConnections() int {
	return s.conns.Size()
}

// Shutdown stops accepting connections. Connected encoders keep streaming.
func (s *Server) Shutdown() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting and force-closes every open connection.
func (s *Server) Close() error {
	err := s.Shutdown()
	s.cancel()
	s.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	s.pool.Release()
	return err
}
