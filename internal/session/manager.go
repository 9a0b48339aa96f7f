// Package session runs the audio pipeline of every station owned by this
// deployment.
//
// A station is in at most one of three states at a time: Live (fed by a
// source encoder), Playlist (rendered from uploaded audio files) or
// ExternalRelay (pulled from an upstream URL). Before any driver starts the
// manager acquires the station's ownership lease, so across every deployment
// sharing the database at most one drives a given station. A per-session
// health task keeps the lease fresh; losing it stops the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/config"
	"github.com/jmylchreest/radiarr/internal/droptoken"
	"github.com/jmylchreest/radiarr/internal/metrics"
	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/observability"
	"github.com/jmylchreest/radiarr/internal/repository"
)

// DefaultContentType is announced when a source does not name one.
const DefaultContentType = "audio/mpeg"

// teardownTimeout bounds the database writes made when a session stops.
const teardownTimeout = 10 * time.Second

// Store opens playlist audio files by storage key.
type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Transcoder converts an audio file to a constant bitrate MP3 stream.
type Transcoder interface {
	Transcode(ctx context.Context, in io.Reader, bitrate int) (io.ReadCloser, error)
}

// StationSource looks stations up, typically through a cache.
type StationSource interface {
	// GetStation returns nil, nil when the station does not exist.
	GetStation(ctx context.Context, id string) (*models.Station, error)
	Invalidate(id string)
}

// Options holds the collaborators of a Manager.
type Options struct {
	Session config.SessionConfig
	Relay   config.RelayConfig

	Registry   *broadcast.Registry
	Stations   repository.StationRepository
	AudioFiles repository.AudioFileRepository
	Sessions   repository.MediaSessionRepository

	// Lookup defaults to reading Stations directly.
	Lookup     StationSource
	Store      Store
	Transcoder Transcoder
	HTTPClient *http.Client
	DropTokens *droptoken.Counter
	Logger     *slog.Logger
}

// Manager is the media session map of one deployment.
type Manager struct {
	cfg        config.SessionConfig
	relay      config.RelayConfig
	deployment string

	registry   *broadcast.Registry
	stations   repository.StationRepository
	files      repository.AudioFileRepository
	rows       repository.MediaSessionRepository
	lookup     StationSource
	store      Store
	transcoder Transcoder
	client     *http.Client
	tokens     *droptoken.Counter
	logger     *slog.Logger
	now        func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc

	// startMu orders wg.Add in start against Shutdown setting shutting.
	startMu  sync.Mutex
	shutting atomic.Bool
	wg       sync.WaitGroup

	active *xsync.MapOf[string, *activeSession]
	locks  *xsync.MapOf[string, *sync.Mutex]
}

// activeSession is one running session owned by this deployment.
type activeSession struct {
	stationID  string
	kind       models.SessionKind
	taskID     string
	relayURL   string
	sourceAddr string
	startedAt  time.Time

	tx       *broadcast.Transmitter
	token    *droptoken.Token
	cancel   context.CancelFunc
	done     chan struct{}
	noResume atomic.Bool

	mu          sync.Mutex
	nowPlaying  string
	contentType string
	err         error
}

func (s *activeSession) setNowPlaying(title string) {
	s.mu.Lock()
	s.nowPlaying = title
	s.mu.Unlock()
}

func (s *activeSession) setContentType(ct string) {
	s.mu.Lock()
	s.contentType = ct
	s.mu.Unlock()
	s.tx.SetContentType(ct)
}

// NewManager creates a Manager. Run starts its reconcile loop.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	deployment := opts.Session.DeploymentID
	if deployment == "" {
		deployment, _ = os.Hostname()
	}
	if deployment == "" {
		deployment = uuid.NewString()
	}

	m := &Manager{
		cfg:        opts.Session,
		relay:      opts.Relay,
		deployment: deployment,
		registry:   opts.Registry,
		stations:   opts.Stations,
		files:      opts.AudioFiles,
		rows:       opts.Sessions,
		lookup:     opts.Lookup,
		store:      opts.Store,
		transcoder: opts.Transcoder,
		client:     client,
		tokens:     opts.DropTokens,
		logger:     observability.WithComponent(logger, "session"),
		now:        time.Now,
		active:     xsync.NewMapOf[string, *activeSession](),
		locks:      xsync.NewMapOf[string, *sync.Mutex](),
	}
	if m.lookup == nil {
		m.lookup = repoLookup{stations: opts.Stations}
	}
	m.baseCtx, m.cancelAll = context.WithCancel(context.Background())
	return m
}

// DeploymentID returns the identity this manager acquires leases under.
func (m *Manager) DeploymentID() string {
	return m.deployment
}

// lockStation serializes state transitions of one station.
func (m *Manager) lockStation(id string) func() {
	mu, _ := m.locks.LoadOrCompute(id, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) expiredBefore(now time.Time) time.Time {
	return now.Add(-m.cfg.LeaseTimeout)
}

// deriveKind picks the background session a station should run.
func (m *Manager) deriveKind(ctx context.Context, station *models.Station) (models.SessionKind, error) {
	if station.HasRelay() {
		return models.SessionKindExternalRelay, nil
	}
	n, err := m.files.CountByStation(ctx, station.ID)
	if err != nil {
		return "", fmt.Errorf("counting audio files: %w", err)
	}
	if n > 0 {
		return models.SessionKindPlaylist, nil
	}
	return "", nil
}

// startDerived starts the background session the station calls for, if any.
// The caller holds the station lock and has stopped any local session.
func (m *Manager) startDerived(ctx context.Context, station *models.Station) (*activeSession, error) {
	kind, err := m.deriveKind(ctx, station)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, nil
	}
	return m.start(station, kind, nil)
}

// start acquires the lease, opens the broadcast channel, records the session
// row and launches the driver. The caller holds the station lock.
func (m *Manager) start(station *models.Station, kind models.SessionKind, src *LiveSource) (*activeSession, error) {
	m.startMu.Lock()
	if m.shutting.Load() {
		m.startMu.Unlock()
		return nil, ErrShuttingDown
	}
	m.wg.Add(1)
	m.startMu.Unlock()

	launched := false
	defer func() {
		if !launched {
			m.wg.Done()
		}
	}()

	ctx := m.baseCtx
	now := m.now().UTC()
	taskID := uuid.NewString()

	ok, err := m.stations.AcquireOwnership(ctx, station.ID, m.deployment, taskID, now, m.expiredBefore(now))
	if err != nil {
		return nil, fmt.Errorf("acquiring ownership of %s: %w", station.ID, err)
	}
	if !ok {
		return nil, ErrOwnedElsewhere
	}

	tx, err := m.registry.Transmit(station.ID)
	if err != nil {
		m.releaseLease(station.ID, taskID)
		return nil, fmt.Errorf("opening channel for %s: %w", station.ID, err)
	}

	s := &activeSession{
		stationID:   station.ID,
		kind:        kind,
		taskID:      taskID,
		startedAt:   now,
		tx:          tx,
		done:        make(chan struct{}),
		contentType: DefaultContentType,
	}
	switch kind {
	case models.SessionKindLive:
		if src != nil {
			s.sourceAddr = src.RemoteAddr
			if src.ContentType != "" {
				s.contentType = src.ContentType
			}
		}
	case models.SessionKindExternalRelay:
		s.relayURL = station.RelayURL
	}
	tx.SetContentType(s.contentType)

	row := &models.MediaSession{
		StationID:       station.ID,
		Kind:            kind,
		DeploymentID:    m.deployment,
		TaskID:          taskID,
		LastAudioFileID: station.PlaylistCursor,
		RelayURL:        s.relayURL,
		ContentType:     s.contentType,
		SourceAddr:      s.sourceAddr,
		HealthCheckedAt: now,
	}
	if err := m.rows.Upsert(ctx, row); err != nil {
		tx.Close()
		m.releaseLease(station.ID, taskID)
		return nil, fmt.Errorf("recording session for %s: %w", station.ID, err)
	}

	sctx, cancel := context.WithCancel(m.baseCtx)
	s.cancel = cancel
	if m.tokens != nil {
		s.token = m.tokens.Acquire()
	}
	m.active.Store(station.ID, s)
	metrics.MediaSessionsActive.WithLabelValues(string(kind)).Inc()

	m.logger.Info("media session started",
		slog.String("station_id", station.ID),
		slog.String("kind", string(kind)),
		slog.String("task_id", taskID),
	)

	launched = true
	go m.run(sctx, station, s)

	// Shutdown may have ranged over active before s was stored.
	if kind != models.SessionKindLive && m.shutting.Load() {
		s.noResume.Store(true)
		s.cancel()
	}
	return s, nil
}

// run drives the session until its driver returns, refreshing the lease on
// every health tick, then tears it down.
func (m *Manager) run(ctx context.Context, station *models.Station, s *activeSession) {
	defer m.wg.Done()

	driverDone := make(chan error, 1)
	go func() {
		driverDone <- m.drive(ctx, station, s)
	}()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	var err error
loop:
	for {
		select {
		case err = <-driverDone:
			break loop
		case <-ticker.C:
			if !m.healthCheck(ctx, s) {
				s.noResume.Store(true)
				s.cancel()
			}
		}
	}

	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	m.teardown(s, err)
	close(s.done)

	if s.kind == models.SessionKindLive && !s.noResume.Load() && !m.shutting.Load() {
		m.resume(s.stationID)
	}
}

func (m *Manager) drive(ctx context.Context, station *models.Station, s *activeSession) error {
	switch s.kind {
	case models.SessionKindLive:
		<-ctx.Done()
		return nil
	case models.SessionKindPlaylist:
		return m.drivePlaylist(ctx, station, s)
	case models.SessionKindExternalRelay:
		return m.driveRelay(ctx, s)
	default:
		return fmt.Errorf("unknown session kind %q", s.kind)
	}
}

// healthCheck refreshes the lease and the session row. It returns false only
// when the lease is definitely gone; transient database errors are retried
// on the next tick.
func (m *Manager) healthCheck(ctx context.Context, s *activeSession) bool {
	now := m.now().UTC()
	ok, err := m.stations.RefreshOwnership(ctx, s.stationID, m.deployment, s.taskID, now)
	if err != nil {
		if ctx.Err() == nil {
			observability.WithError(m.logger, err).Warn("refreshing ownership failed",
				slog.String("station_id", s.stationID))
		}
		return true
	}
	if !ok {
		m.logger.Warn("station ownership lost",
			slog.String("station_id", s.stationID),
			slog.String("task_id", s.taskID),
		)
		s.mu.Lock()
		s.err = ErrOwnershipLost
		s.mu.Unlock()
		return false
	}
	if _, err := m.rows.Touch(ctx, s.stationID, s.taskID, now); err != nil && ctx.Err() == nil {
		observability.WithError(m.logger, err).Warn("touching media session failed",
			slog.String("station_id", s.stationID))
	}
	return true
}

// teardown closes the transmitter, deletes the session row and releases the
// lease. The row delete and lease release are conditional on the task id, so
// they never clobber a successor's state.
func (m *Manager) teardown(s *activeSession, err error) {
	s.cancel()
	s.tx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if _, derr := m.rows.Delete(ctx, s.stationID, s.taskID); derr != nil {
		observability.WithError(m.logger, derr).Warn("deleting media session failed",
			slog.String("station_id", s.stationID))
	}
	m.releaseLeaseCtx(ctx, s.stationID, s.taskID)

	m.active.Compute(s.stationID, func(old *activeSession, loaded bool) (*activeSession, bool) {
		if loaded && old == s {
			return nil, true
		}
		return old, !loaded
	})
	metrics.MediaSessionsActive.WithLabelValues(string(s.kind)).Dec()
	s.token.Release()

	attrs := []any{
		slog.String("station_id", s.stationID),
		slog.String("kind", string(s.kind)),
		slog.Duration("duration", m.now().UTC().Sub(s.startedAt)),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.WithError(m.logger, err).Warn("media session ended", attrs...)
		return
	}
	m.logger.Info("media session stopped", attrs...)
}

func (m *Manager) releaseLease(stationID, taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	m.releaseLeaseCtx(ctx, stationID, taskID)
}

func (m *Manager) releaseLeaseCtx(ctx context.Context, stationID, taskID string) {
	if err := m.stations.ReleaseOwnership(ctx, stationID, m.deployment, taskID); err != nil {
		observability.WithError(m.logger, err).Warn("releasing ownership failed",
			slog.String("station_id", stationID))
	}
}

// stop cancels s without resuming and waits for its teardown.
func (m *Manager) stop(ctx context.Context, s *activeSession) error {
	s.noResume.Store(true)
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resume re-derives the background session of a station whose live source
// disconnected.
func (m *Manager) resume(stationID string) {
	unlock := m.lockStation(stationID)
	defer unlock()

	if _, ok := m.active.Load(stationID); ok {
		return
	}
	station, err := m.lookup.GetStation(m.baseCtx, stationID)
	if err != nil || station == nil {
		return
	}
	if _, err := m.startDerived(m.baseCtx, station); err != nil && !errors.Is(err, ErrShuttingDown) {
		observability.WithError(m.logger, err).Warn("resuming media session failed",
			slog.String("station_id", stationID))
	}
}

// Restart tears down the station's session and starts the one its current
// configuration calls for. A live session, local or on another deployment,
// is left untouched and ErrLiveStreaming is returned.
func (m *Manager) Restart(ctx context.Context, stationID string) (*Info, error) {
	unlock := m.lockStation(stationID)
	defer unlock()

	station, err := m.lookup.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, ErrStationNotFound
	}

	s, local := m.active.Load(stationID)
	if local && s.kind == models.SessionKindLive {
		return nil, ErrLiveStreaming
	}
	if !local {
		row, err := m.rows.GetByStationID(ctx, stationID)
		if err != nil {
			return nil, fmt.Errorf("loading media session: %w", err)
		}
		if row != nil && row.IsLive() && !row.Stale(m.expiredBefore(m.now().UTC())) {
			return nil, ErrLiveStreaming
		}
	}

	if local {
		if err := m.stop(ctx, s); err != nil {
			return nil, err
		}
	}

	started, err := m.startDerived(ctx, station)
	if err != nil {
		return nil, err
	}
	if started == nil {
		return nil, nil
	}
	return m.localInfo(started), nil
}

// Terminate stops the station's session, live included, without resuming.
func (m *Manager) Terminate(ctx context.Context, stationID string) error {
	unlock := m.lockStation(stationID)
	defer unlock()

	s, ok := m.active.Load(stationID)
	if !ok {
		return ErrNoSession
	}
	s.noResume.Store(true)
	m.registry.Terminate(stationID)
	return m.stop(ctx, s)
}

// StationDeleted stops the station's session and forgets the cached station.
func (m *Manager) StationDeleted(ctx context.Context, stationID string) error {
	m.lookup.Invalidate(stationID)
	if err := m.Terminate(ctx, stationID); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// StationChanged reloads the station and, unless it is live, restarts its
// background session when the session kind or relay URL changed.
func (m *Manager) StationChanged(ctx context.Context, stationID string) error {
	m.lookup.Invalidate(stationID)
	station, err := m.lookup.GetStation(ctx, stationID)
	if err != nil {
		return err
	}
	if station == nil {
		return m.StationDeleted(ctx, stationID)
	}

	unlock := m.lockStation(stationID)
	defer unlock()

	desired, err := m.deriveKind(ctx, station)
	if err != nil {
		return err
	}

	s, ok := m.active.Load(stationID)
	if ok {
		if s.kind == models.SessionKindLive {
			return nil
		}
		if s.kind == desired && s.relayURL == station.RelayURL {
			return nil
		}
		if err := m.stop(ctx, s); err != nil {
			return err
		}
	}
	if desired == "" {
		return nil
	}
	_, err = m.start(station, desired, nil)
	if errors.Is(err, ErrOwnedElsewhere) {
		return nil
	}
	return err
}

// Run reconciles claimable stations every reconcile interval until ctx is
// done. This is how a deployment picks up stations whose owner died.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.AutoStart {
		m.Reconcile(ctx)
	}

	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile starts the background session of every claimable station that
// has no local session.
func (m *Manager) Reconcile(ctx context.Context) {
	if m.shutting.Load() {
		return
	}
	stations, err := m.stations.ListClaimable(ctx, m.expiredBefore(m.now().UTC()))
	if err != nil {
		if ctx.Err() == nil {
			observability.WithError(m.logger, err).Warn("listing claimable stations failed")
		}
		return
	}

	for _, station := range stations {
		if ctx.Err() != nil {
			return
		}
		m.reconcileStation(ctx, station)
	}
}

func (m *Manager) reconcileStation(ctx context.Context, station *models.Station) {
	unlock := m.lockStation(station.ID)
	defer unlock()

	if _, ok := m.active.Load(station.ID); ok {
		return
	}
	_, err := m.startDerived(ctx, station)
	switch {
	case err == nil:
	case errors.Is(err, ErrOwnedElsewhere), errors.Is(err, ErrShuttingDown):
		m.logger.Debug("station not claimed", slog.String("station_id", station.ID), slog.String("reason", err.Error()))
	default:
		observability.WithError(m.logger, err).Warn("starting media session failed",
			slog.String("station_id", station.ID))
	}
}

// Shutdown stops starting sessions and stops every playlist and relay
// session at once. Live sessions keep broadcasting until their encoders
// disconnect; those still connected when ctx is done are cancelled. Every
// session releases its lease on the way out.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.startMu.Lock()
	m.shutting.Store(true)
	m.startMu.Unlock()

	m.active.Range(func(_ string, s *activeSession) bool {
		s.noResume.Store(true)
		if s.kind != models.SessionKindLive {
			s.cancel()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all media sessions stopped")
		return nil
	case <-ctx.Done():
	}

	m.logger.Warn("closing live sessions still connected at shutdown timeout",
		slog.Int("open", m.Local()))
	m.cancelAll()

	select {
	case <-done:
	case <-time.After(teardownTimeout):
		m.logger.Warn("media sessions did not stop after cancellation")
	}
	return ctx.Err()
}

// repoLookup reads stations straight from the repository.
type repoLookup struct {
	stations repository.StationRepository
}

func (l repoLookup) GetStation(ctx context.Context, id string) (*models.Station, error) {
	return l.stations.GetByID(ctx, id)
}

func (repoLookup) Invalidate(string) {}
